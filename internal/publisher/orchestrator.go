// Package publisher turns local drafts into signed, broadcast network
// events. A publish run walks a named step pipeline, supports a platform-held
// key or a user-held external signer, and for composite drafts publishes
// dependent children depth-first before the parent references them.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/learnstr/learnstr/internal/addr"
	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/ops"
	"github.com/learnstr/learnstr/internal/resolver"
	"github.com/learnstr/learnstr/internal/signer"
	"github.com/learnstr/learnstr/internal/store"
)

// LocalStore is the slice of the local store the orchestrator needs.
type LocalStore interface {
	FindDraft(ctx context.Context, id string) (*store.Draft, error)
	FindChildren(ctx context.Context, draftID string) ([]store.DraftChild, error)
	FindPublishedByDraft(ctx context.Context, draftID string) (*store.PublishedRecord, error)
	UpsertPublished(ctx context.Context, rec *store.PublishedRecord) error
}

// Broadcaster sends a signed event to the network and reports how many
// destinations accepted it.
type Broadcaster interface {
	Broadcast(ctx context.Context, relays []string, event *nostr.Event) (int, error)
}

// CacheInvalidator drops stale resolver cache entries after a publish.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string, kinds []int)
}

// NoteResolver recovers the author of an event referenced by a direct id.
type NoteResolver interface {
	ResolveOne(ctx context.Context, id string, kinds []int) resolver.Result
}

// PlatformService executes a whole publish pipeline as one delegated call.
// The default implementation runs it in-process with the platform key; a
// remote deployment can inject its own.
type PlatformService interface {
	PublishDraft(ctx context.Context, draftID, secret string) (*Receipt, error)
}

// Options select the signing strategy for one publish call. Custody is
// threaded explicitly rather than read from ambient state.
type Options struct {
	// Custody overrides the configured custody mode when non-empty.
	Custody string
	// Secret is the platform-custodied signing key for this call. Falls
	// back to the server-held key from the environment.
	Secret string
	// Signer is the user-custodied external authority session.
	Signer signer.Signer
}

// Receipt is the terminal result of a successful publish.
type Receipt struct {
	DraftID  string
	Address  addr.Address
	EventID  string
	Accepted int
	Children []ChildRef
}

// Orchestrator drives publish runs. Independent drafts may publish
// concurrently; each run owns its step list and shares only the store, whose
// persist step is an idempotent upsert.
type Orchestrator struct {
	store    LocalStore
	bc       Broadcaster
	cache    CacheInvalidator
	notes    NoteResolver
	platform PlatformService
	cfg      *config.Config
	relays   []string
	runs     *xsync.MapOf[string, *Run]
	log      *ops.Logger
}

// New creates an orchestrator. cache may be nil.
func New(st LocalStore, bc Broadcaster, cfg *config.Config, cache CacheInvalidator, log *ops.Logger) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		bc:     bc,
		cache:  cache,
		cfg:    cfg,
		relays: cfg.Relays.Seeds,
		runs:   xsync.NewMapOf[string, *Run](),
		log:    log.WithComponent("publisher"),
	}
	o.platform = &selfPlatform{o}
	return o
}

// SetPlatformService replaces the in-process platform path with a remote one.
func (o *Orchestrator) SetPlatformService(p PlatformService) {
	o.platform = p
}

// SetNoteResolver provides the lookup used to attribute direct-id children to
// their real authors.
func (o *Orchestrator) SetNoteResolver(r NoteResolver) {
	o.notes = r
}

// Run returns the step-observable handle of the latest run for a draft.
func (o *Orchestrator) Run(draftID string) (*Run, bool) {
	return o.runs.Load(draftID)
}

// Publish drives the full pipeline for one draft. The custody mode decides
// the signing strategy: platform custody delegates the whole pipeline as one
// call and reports completion markers; user custody executes the steps
// client-side in strict order. No step is retried here; retry is a caller
// re-invocation.
func (o *Orchestrator) Publish(ctx context.Context, draftID string, opts Options) (*Receipt, error) {
	if existing, ok := o.runs.Load(draftID); ok && existing.Publishing() {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrAlreadyPublishing)
	}

	custody := opts.Custody
	if custody == "" {
		custody = o.cfg.Identity.Custody
	}

	switch custody {
	case config.CustodyPlatform:
		secret := opts.Secret
		if secret == "" {
			secret = o.cfg.Identity.Nsec
		}
		return o.platform.PublishDraft(ctx, draftID, secret)

	case config.CustodyUser:
		if opts.Signer == nil {
			return nil, fmt.Errorf("user custody requires an external signer session")
		}
		return o.publishStepwise(ctx, draftID, opts.Signer)

	default:
		return nil, fmt.Errorf("unknown custody mode: %q", custody)
	}
}

// selfPlatform runs the platform-custodied pipeline in-process: the caller
// sees only the terminal result plus step completion markers.
type selfPlatform struct {
	o *Orchestrator
}

func (p *selfPlatform) PublishDraft(ctx context.Context, draftID, secret string) (*Receipt, error) {
	if secret == "" {
		return nil, fmt.Errorf("platform custody requires a signing secret")
	}
	keySigner, err := signer.NewKeySigner(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid platform signing key: %w", err)
	}

	receipt, err := p.o.publishStepwise(ctx, draftID, keySigner)
	if err == nil {
		if run, ok := p.o.runs.Load(draftID); ok {
			run.completeAll()
		}
	}
	return receipt, err
}

// publishStepwise executes the pipeline for one root draft, updating the
// run's step list as it goes.
func (o *Orchestrator) publishStepwise(ctx context.Context, draftID string, sg signer.Signer) (*Receipt, error) {
	draft, err := o.store.FindDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	// Claim the draft atomically: two concurrent calls race to install
	// their run, and the loser backs off instead of double-publishing.
	run := newRun(draftID, draft.IsComposite())
	claimed := false
	o.runs.Compute(draftID, func(existing *Run, loaded bool) (*Run, bool) {
		if loaded && existing.Publishing() {
			return existing, false
		}
		claimed = true
		return run, false
	})
	if !claimed {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrAlreadyPublishing)
	}

	fail := func(step string, err error) (*Receipt, error) {
		run.fail(step, err.Error())
		o.log.LogPublishStep(draftID, step, StepError, err.Error())
		return nil, err
	}

	// validate
	run.start(StepValidate)
	children, err := o.validate(ctx, draft)
	if err != nil {
		return fail(StepValidate, err)
	}
	run.complete(StepValidate, "")
	o.log.LogPublishStep(draftID, StepValidate, StepCompleted, "")

	pubkey, err := sg.GetPublicKey(ctx)
	if err != nil {
		return fail(StepSign, fmt.Errorf("failed to read signer public key: %w", err))
	}

	// publish-children: every child that is still an unpublished draft is
	// published first, depth-first, so the parent can reference it by
	// identity. A child failure halts here; no partial parent is built.
	var refs []ChildRef
	if draft.IsComposite() {
		run.start(StepChildren)
		visited := map[string]struct{}{draft.ID: {}}
		refs, err = o.publishChildren(ctx, sg, pubkey, children, visited)
		if err != nil {
			return fail(StepChildren, err)
		}
		run.complete(StepChildren, fmt.Sprintf("%d lessons published", len(refs)))
		o.log.LogPublishStep(draftID, StepChildren, StepCompleted, "")
	}

	// build-event
	run.start(StepBuild)
	event := buildEvent(draft, pubkey, refs)
	run.complete(StepBuild, "")

	// sign: republication by a different authority is rejected before the
	// signature is even attempted.
	run.start(StepSign)
	existing, err := o.store.FindPublishedByDraft(ctx, draftID)
	switch {
	case err == nil:
		if existing.OwnerPubKey != pubkey {
			return fail(StepSign, fmt.Errorf("draft %s was published by %s: %w",
				draftID, existing.OwnerPubKey, ErrOwnershipMismatch))
		}
	case errors.Is(err, store.ErrNotFound):
		// First publication; nothing to check against.
	default:
		return fail(StepSign, fmt.Errorf("failed to check published record: %w", err))
	}
	if err := sg.SignEvent(ctx, event); err != nil {
		if signer.IsDeclined(err) {
			return fail(StepSign, fmt.Errorf("%w", ErrSigningDeclined))
		}
		return fail(StepSign, fmt.Errorf("failed to sign event: %w", err))
	}
	run.complete(StepSign, "")

	// broadcast
	run.start(StepBroadcast)
	accepted, err := o.broadcast(ctx, event)
	if err != nil {
		return fail(StepBroadcast, err)
	}
	run.complete(StepBroadcast, fmt.Sprintf("accepted by %d relays", accepted))

	// persist
	run.start(StepPersist)
	address := addr.ForDraft(event.Kind, pubkey, draft.ID)
	if err := o.persist(ctx, draft, address, event, pubkey); err != nil {
		return fail(StepPersist, err)
	}
	run.complete(StepPersist, "")

	// finalize: success marker; freshens the resolver cache.
	run.start(StepFinalize)
	if o.cache != nil {
		o.cache.Invalidate(ctx, draft.ID, addr.ContentKinds)
	}
	run.complete(StepFinalize, "")
	o.log.LogPublishStep(draftID, StepFinalize, StepCompleted, "")

	return &Receipt{
		DraftID:  draftID,
		Address:  address,
		EventID:  event.ID,
		Accepted: accepted,
		Children: refs,
	}, nil
}

func (o *Orchestrator) validate(ctx context.Context, draft *store.Draft) ([]store.DraftChild, error) {
	switch draft.Kind {
	case store.DraftDocument, store.DraftVideo, store.DraftCourse:
	default:
		return nil, fmt.Errorf("draft %s has unknown kind %q", draft.ID, draft.Kind)
	}
	if draft.Title == "" {
		return nil, fmt.Errorf("draft %s has no title", draft.ID)
	}
	if draft.OwnerPubKey == "" {
		return nil, fmt.Errorf("draft %s has no owner", draft.ID)
	}

	if !draft.IsComposite() {
		return nil, nil
	}

	children, err := o.store.FindChildren(ctx, draft.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children: %w", err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("course draft %s has no lessons", draft.ID)
	}
	if max := o.cfg.Publish.MaxChildren; max > 0 && len(children) > max {
		return nil, fmt.Errorf("course draft %s has %d lessons, limit is %d", draft.ID, len(children), max)
	}
	return children, nil
}

// publishChildren resolves every child reference in order, publishing
// unpublished child drafts through the same per-item pipeline. The visited
// set guards against a malformed draft referencing itself or an ancestor.
func (o *Orchestrator) publishChildren(ctx context.Context, sg signer.Signer, pubkey string, children []store.DraftChild, visited map[string]struct{}) ([]ChildRef, error) {
	refs := make([]ChildRef, 0, len(children))

	for i, child := range children {
		switch {
		case child.Address.Valid:
			// Already published, possibly by someone else: reference
			// it by identity with its own author.
			address, err := addr.Parse(child.Address.String)
			if err != nil {
				return nil, fmt.Errorf("lesson %d has an invalid address: %w", i, err)
			}
			author := address.PubKey
			if author == "" {
				author, err = o.childAuthor(ctx, address)
				if err != nil {
					return nil, fmt.Errorf("lesson %d: %w", i, err)
				}
			}
			refs = append(refs, ChildRef{Address: address, Author: author})

		case child.ChildDraftID.Valid:
			ref, err := o.publishChildDraft(ctx, sg, pubkey, child.ChildDraftID.String, visited)
			if err != nil {
				return nil, fmt.Errorf("lesson %d (%s) failed: %w", i, child.ChildDraftID.String, err)
			}
			refs = append(refs, ref)

		default:
			return nil, fmt.Errorf("lesson %d references neither a draft nor an address", i)
		}
	}

	return refs, nil
}

// childAuthor looks up who authored a direct-id child. The signer's key is
// never assumed; a foreign lesson keeps its real author, and an unresolvable
// one is referenced without attribution.
func (o *Orchestrator) childAuthor(ctx context.Context, address addr.Address) (string, error) {
	if o.notes == nil {
		return "", nil
	}
	result := o.notes.ResolveOne(ctx, address.EventID, nil)
	if result.Failed() {
		return "", fmt.Errorf("failed to resolve author of %s: %s", address.EventID, result.Err)
	}
	if !result.Found() {
		return "", nil
	}
	return result.Note.PubKey, nil
}

// publishChildDraft runs the per-item pipeline for one child draft. A child
// that already has a published record reuses its addressed identity instead
// of broadcasting again, keeping republication idempotent.
func (o *Orchestrator) publishChildDraft(ctx context.Context, sg signer.Signer, pubkey, childID string, visited map[string]struct{}) (ChildRef, error) {
	if _, seen := visited[childID]; seen {
		return ChildRef{}, fmt.Errorf("draft %s is referenced cyclically", childID)
	}
	visited[childID] = struct{}{}

	rec, err := o.store.FindPublishedByDraft(ctx, childID)
	switch {
	case err == nil:
		address, err := addr.Parse(rec.Address)
		if err != nil {
			return ChildRef{}, fmt.Errorf("published record for %s has an invalid address: %w", childID, err)
		}
		return ChildRef{Address: address, Author: rec.OwnerPubKey}, nil
	case !errors.Is(err, store.ErrNotFound):
		return ChildRef{}, fmt.Errorf("failed to check published record: %w", err)
	}

	draft, err := o.store.FindDraft(ctx, childID)
	if err != nil {
		return ChildRef{}, fmt.Errorf("failed to load child draft: %w", err)
	}

	if _, err := o.validate(ctx, draft); err != nil {
		return ChildRef{}, err
	}

	var refs []ChildRef
	if draft.IsComposite() {
		grandchildren, err := o.store.FindChildren(ctx, draft.ID)
		if err != nil {
			return ChildRef{}, fmt.Errorf("failed to load children: %w", err)
		}
		refs, err = o.publishChildren(ctx, sg, pubkey, grandchildren, visited)
		if err != nil {
			return ChildRef{}, err
		}
	}

	event := buildEvent(draft, pubkey, refs)
	if err := sg.SignEvent(ctx, event); err != nil {
		if signer.IsDeclined(err) {
			return ChildRef{}, fmt.Errorf("%w", ErrSigningDeclined)
		}
		return ChildRef{}, fmt.Errorf("failed to sign child event: %w", err)
	}

	if _, err := o.broadcast(ctx, event); err != nil {
		return ChildRef{}, err
	}

	address := addr.ForDraft(event.Kind, pubkey, draft.ID)
	if err := o.persist(ctx, draft, address, event, pubkey); err != nil {
		return ChildRef{}, err
	}

	if o.cache != nil {
		o.cache.Invalidate(ctx, draft.ID, addr.ContentKinds)
	}

	return ChildRef{Address: address, Author: pubkey}, nil
}

func (o *Orchestrator) broadcast(ctx context.Context, event *nostr.Event) (int, error) {
	accepted, err := o.bc.Broadcast(ctx, o.relays, event)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBroadcastRejected, err)
	}
	if accepted < o.cfg.Publish.MinRelayAcks {
		return accepted, fmt.Errorf("%w: %d of %d required relays accepted",
			ErrBroadcastRejected, accepted, o.cfg.Publish.MinRelayAcks)
	}
	return accepted, nil
}

// persist records the published identity. Failing here after a successful
// broadcast means the network has content the local store does not know
// about, which is flagged as its own condition and logged loudly.
func (o *Orchestrator) persist(ctx context.Context, draft *store.Draft, address addr.Address, event *nostr.Event, pubkey string) error {
	rec := &store.PublishedRecord{
		DraftID:     draft.ID,
		Address:     address.Coordinate(),
		EventID:     event.ID,
		OwnerPubKey: pubkey,
		Kind:        event.Kind,
		Price:       draft.Price,
	}
	if err := o.store.UpsertPublished(ctx, rec); err != nil {
		o.log.LogPersistenceInconsistency(draft.ID, address.Coordinate(), err)
		return fmt.Errorf("%w: %s", ErrPersistenceInconsistency, err)
	}
	return nil
}
