// Package interactions maintains running interaction counts (zaps,
// reactions, comments) for a root event by following the live event stream.
// One subscription per tracked root, deduplicated per category, torn down
// when the target stays hidden past a grace window.
package interactions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/addr"
	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/ops"
)

// Subscriber is the live stream the aggregator consumes.
type Subscriber interface {
	Subscribe(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event
}

// Counts are monotonically non-decreasing for the lifetime of one
// subscription, reset to zero only when the target changes or reopens.
// Replies and ThreadComments mirror Comments: thread-parent parsing is a
// documented simplification, not yet implemented.
type Counts struct {
	Zaps           int
	ZapSats        int64
	Likes          int
	Comments       int
	Replies        int
	ThreadComments int

	HasReacted          bool
	UserReactionEventID string
}

// Loading flags per category. They clear after the settle window whether or
// not any events arrived, so a quiet event never spins forever.
type Loading struct {
	Zaps     bool
	Likes    bool
	Comments bool
}

// Visibility states of the teardown state machine.
const (
	stateVisible = "visible"
	stateGrace   = "grace-period"
	stateClosed  = "closed"
)

// Tracker follows one root event. All mutable state is owned by the tracker
// and guarded by one mutex; snapshots are returned by value.
type Tracker struct {
	client Subscriber
	relays []string
	cfg    *config.Interactions
	viewer string
	log    *ops.Logger

	mu       sync.Mutex
	rootID   string
	counts   Counts
	loading  Loading
	seen     map[string]map[string]struct{} // category -> event id set
	state    string
	err      error
	cancel   context.CancelFunc
	settleT  *time.Timer
	hideSoon func(func())

	mountCtx context.Context
}

// Mount opens a tracker for the given root event id. Subscription setup
// failure is terminal for this mount; the caller remounts (or calls Refetch)
// to retry.
func Mount(ctx context.Context, client Subscriber, relays []string, cfg *config.Interactions, viewer, rootID string, log *ops.Logger) (*Tracker, error) {
	if rootID == "" {
		return nil, fmt.Errorf("empty root event id")
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("no relays configured")
	}

	t := &Tracker{
		client:   client,
		relays:   relays,
		cfg:      cfg,
		viewer:   viewer,
		log:      log.WithComponent("interactions"),
		rootID:   rootID,
		mountCtx: ctx,
	}
	t.hideSoon = debounce.New(t.graceWindow())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open()
	return t, nil
}

// Counts returns a snapshot of the current counters.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// Loading returns a snapshot of the per-category loading flags.
func (t *Tracker) Loading() Loading {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Err returns the terminal mount error, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// RootID returns the tracked root event id.
func (t *Tracker) RootID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootID
}

// SetVisible drives the teardown state machine. Hiding the target starts the
// grace window; if it is still hidden when the window elapses, the
// subscription closes to bound the number of concurrently open streams.
// Becoming visible again reopens with counters reset.
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if visible {
		switch t.state {
		case stateGrace:
			t.state = stateVisible
		case stateClosed:
			t.open()
		}
		return
	}

	if t.state != stateVisible {
		return
	}
	t.state = stateGrace
	t.hideSoon(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == stateGrace {
			t.close()
		}
	})
}

// Retarget switches the tracker to a new root event, tearing the current
// subscription down and reopening with counters reset.
func (t *Tracker) Retarget(rootID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rootID == "" || rootID == t.rootID {
		return
	}
	t.close()
	t.rootID = rootID
	t.open()
}

// Refetch closes and reopens the subscription with counters reset. This is
// the caller-level retry; the tracker never reconnects on its own.
func (t *Tracker) Refetch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.close()
	t.open()
}

// Close tears the tracker down for good.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.close()
}

// open resets all counters and opens a fresh subscription. Caller holds the
// lock.
func (t *Tracker) open() {
	t.counts = Counts{}
	t.loading = Loading{Zaps: true, Likes: true, Comments: true}
	t.seen = map[string]map[string]struct{}{
		"zaps":     {},
		"likes":    {},
		"comments": {},
	}
	t.err = nil
	t.state = stateVisible

	subCtx, cancel := context.WithCancel(t.mountCtx)
	t.cancel = cancel

	filter := nostr.Filter{
		Kinds: []int{addr.KindZapReceipt, addr.KindReaction, addr.KindComment},
		Tags:  nostr.TagMap{"e": []string{t.rootID}},
	}
	events := t.client.Subscribe(subCtx, t.relays, nostr.Filters{filter})

	rootID := t.rootID
	go t.consume(subCtx, rootID, events)

	t.settleT = time.AfterFunc(t.settleWindow(), func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.rootID == rootID {
			t.loading = Loading{}
		}
	})

	t.log.LogSubscription(rootID, "open")
}

// close cancels the subscription. Caller holds the lock.
func (t *Tracker) close() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.settleT != nil {
		t.settleT.Stop()
		t.settleT = nil
	}
	t.state = stateClosed
	t.log.LogSubscription(t.rootID, "close")
}

// consume classifies the unbounded, order-unspecified stream. Events may
// arrive from several relays; the per-category seen sets make redelivery a
// no-op. Malformed events are dropped without affecting counting.
func (t *Tracker) consume(ctx context.Context, rootID string, events <-chan *nostr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev == nil || ev.ID == "" {
				continue
			}
			t.ingest(rootID, ev)
		}
	}
}

func (t *Tracker) ingest(rootID string, ev *nostr.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A stale goroutine from a previous target must not touch the new
	// target's counters.
	if t.rootID != rootID {
		return
	}
	if !references(ev, rootID) {
		return
	}

	switch ev.Kind {
	case addr.KindZapReceipt:
		t.ingestZap(ev)
	case addr.KindReaction:
		t.ingestReaction(ev)
	case addr.KindComment:
		t.ingestComment(ev)
	}
}

func (t *Tracker) ingestZap(ev *nostr.Event) {
	if t.dup("zaps", ev.ID) {
		return
	}

	info, err := parseZapReceipt(ev)
	if err != nil {
		return
	}
	if t.cfg.MinZapSats > 0 && info.Amount < int64(t.cfg.MinZapSats) {
		return
	}

	t.counts.Zaps++
	t.counts.ZapSats += info.Amount
	t.loading.Zaps = false
}

func (t *Tracker) ingestReaction(ev *nostr.Event) {
	if t.dup("likes", ev.ID) {
		return
	}

	reaction := ev.Content
	if reaction == "" {
		reaction = "+"
	}
	if !t.allowedReaction(reaction) {
		return
	}

	t.counts.Likes++
	t.loading.Likes = false

	if t.viewer != "" && ev.PubKey == t.viewer {
		t.counts.HasReacted = true
		t.counts.UserReactionEventID = ev.ID
	}
}

func (t *Tracker) ingestComment(ev *nostr.Event) {
	if t.dup("comments", ev.ID) {
		return
	}

	t.counts.Comments++
	// Thread-parent parsing is not implemented; replies and thread
	// comments mirror the flat comment count.
	t.counts.Replies = t.counts.Comments
	t.counts.ThreadComments = t.counts.Comments
	t.loading.Comments = false
}

func (t *Tracker) dup(category, id string) bool {
	set := t.seen[category]
	if _, seen := set[id]; seen {
		return true
	}
	set[id] = struct{}{}
	return false
}

func (t *Tracker) allowedReaction(reaction string) bool {
	if len(t.cfg.AllowedReactionChars) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedReactionChars {
		if reaction == allowed {
			return true
		}
	}
	return false
}

func (t *Tracker) graceWindow() time.Duration {
	if t.cfg.GraceMs <= 0 {
		return 45 * time.Second
	}
	return time.Duration(t.cfg.GraceMs) * time.Millisecond
}

func (t *Tracker) settleWindow() time.Duration {
	if t.cfg.SettleMs <= 0 {
		return 4 * time.Second
	}
	return time.Duration(t.cfg.SettleMs) * time.Millisecond
}

func references(ev *nostr.Event, rootID string) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" && tag[1] == rootID {
			return true
		}
	}
	return false
}
