// Package resolver maps local identifiers to their current signed events on
// the network. One Resolve call issues exactly one batch query regardless of
// how many identifiers it is given, and every requested identifier appears in
// the output exactly once.
package resolver

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/addr"
	"github.com/learnstr/learnstr/internal/ops"
)

// Transport is the one-shot batch read the resolver depends on.
type Transport interface {
	QuerySync(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Result is the per-identifier outcome of a batch resolution. At most one of
// Note or Err is set; both zero means the identifier resolved to nothing,
// which is not an error.
type Result struct {
	Note *nostr.Event `json:"note,omitempty"`
	Err  string       `json:"error,omitempty"`
}

// Found reports whether the identifier resolved to an event.
func (r Result) Found() bool {
	return r.Note != nil
}

// Failed reports whether the resolution itself failed.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Resolver resolves batches of identifiers against a set of relays. It is a
// pure function of its inputs and the backing network: it never writes the
// local store, so a caching layer can wrap it without coordination.
type Resolver struct {
	transport Transport
	relays    []string
	log       *ops.Logger
}

// New creates a resolver reading from the given relays
func New(transport Transport, relays []string, log *ops.Logger) *Resolver {
	return &Resolver{
		transport: transport,
		relays:    relays,
		log:       log.WithComponent("resolver"),
	}
}

// Resolve maps every identifier to a Result. Identifiers are deduplicated
// before the network call; an empty set short-circuits without one. A
// transport failure fails the whole batch uniformly, since the call itself is
// atomic; per-identifier absence is a zero Result.
func (r *Resolver) Resolve(ctx context.Context, ids []string, kinds []int) map[string]Result {
	out := make(map[string]Result, len(ids))
	if len(ids) == 0 {
		return out
	}

	// Parse and dedupe. Identifiers that fail to parse get their error
	// recorded and never reach the network.
	keyByID := make(map[string]string, len(ids))
	var addrs []addr.Address
	seenKeys := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := out[id]; dup {
			continue
		}
		if _, dup := keyByID[id]; dup {
			continue
		}

		address, err := addr.Parse(id)
		if err != nil {
			out[id] = Result{Err: err.Error()}
			continue
		}

		key := address.Identifier
		if address.IsDirect() {
			key = address.EventID
		}
		keyByID[id] = key

		if _, dup := seenKeys[key]; !dup {
			seenKeys[key] = struct{}{}
			addrs = append(addrs, address)
		}
	}

	if len(addrs) == 0 {
		return out
	}

	start := time.Now()
	events, err := r.transport.QuerySync(ctx, r.relays, addr.MergeFilters(addrs, kinds))
	if err != nil {
		// The batch call is atomic, so its failure applies to every
		// identifier that was part of it.
		r.log.LogResolveBatch(len(addrs), 0, time.Since(start), err)
		for id := range keyByID {
			out[id] = Result{Err: err.Error()}
		}
		return out
	}

	latest := groupLatest(events, seenKeys, kinds)
	r.log.LogResolveBatch(len(addrs), len(latest), time.Since(start), nil)

	for id, key := range keyByID {
		if note, ok := latest[key]; ok {
			out[id] = Result{Note: note}
		} else {
			out[id] = Result{}
		}
	}

	return out
}

// ResolveOne behaves identically to a one-element batch.
func (r *Resolver) ResolveOne(ctx context.Context, id string, kinds []int) Result {
	return r.Resolve(ctx, []string{id}, kinds)[id]
}

// groupLatest groups events by their embedded identifier and keeps the most
// recent per group. Events for identifiers nobody asked about, or of kinds
// outside the requested set, are discarded rather than fabricated into
// results.
func groupLatest(events []*nostr.Event, wanted map[string]struct{}, kinds []int) map[string]*nostr.Event {
	allowed := make(map[int]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}

	latest := make(map[string]*nostr.Event)
	for _, ev := range events {
		if len(allowed) > 0 && addr.IsReplaceable(ev.Kind) {
			if _, ok := allowed[ev.Kind]; !ok {
				continue
			}
		}

		key := addr.EventIdentifier(ev)
		if _, ok := wanted[key]; !ok {
			continue
		}

		if current, ok := latest[key]; !ok || ev.CreatedAt > current.CreatedAt {
			latest[key] = ev
		}
	}

	return latest
}
