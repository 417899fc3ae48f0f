package publisher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/ops"
	"github.com/learnstr/learnstr/internal/resolver"
	"github.com/learnstr/learnstr/internal/signer"
	"github.com/learnstr/learnstr/internal/store"
)

const testPubkey = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

type fakeStore struct {
	mu         sync.Mutex
	drafts     map[string]*store.Draft
	children   map[string][]store.DraftChild
	published  map[string]*store.PublishedRecord
	upserts    int
	upsertErr  error
	findPubErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drafts:    map[string]*store.Draft{},
		children:  map[string][]store.DraftChild{},
		published: map[string]*store.PublishedRecord{},
	}
}

func (f *fakeStore) FindDraft(ctx context.Context, id string) (*store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	copied := *draft
	return &copied, nil
}

func (f *fakeStore) FindChildren(ctx context.Context, draftID string) ([]store.DraftChild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[draftID], nil
}

func (f *fakeStore) FindPublishedByDraft(ctx context.Context, draftID string) (*store.PublishedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findPubErr != nil {
		return nil, f.findPubErr
	}
	rec, ok := f.published[draftID]
	if !ok {
		return nil, fmt.Errorf("published record for draft %s: %w", draftID, store.ErrNotFound)
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeStore) UpsertPublished(ctx context.Context, rec *store.PublishedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	copied := *rec
	f.published[rec.DraftID] = &copied
	return nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	accepted int
	err      error
	events   []*nostr.Event
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, relays []string, event *nostr.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, event)
	return f.accepted, nil
}

func (f *fakeBroadcaster) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeSigner struct {
	pubkey  string
	signErr error
	signed  int
}

func (f *fakeSigner) GetPublicKey(ctx context.Context) (string, error) {
	return f.pubkey, nil
}

func (f *fakeSigner) SignEvent(ctx context.Context, ev *nostr.Event) error {
	if f.signErr != nil {
		return f.signErr
	}
	f.signed++
	ev.ID = fmt.Sprintf("signed-%d-%s", f.signed, ev.Tags.GetD())
	ev.Sig = "fakesig"
	return nil
}

type fakeNoteResolver struct {
	results map[string]resolver.Result
}

func (f *fakeNoteResolver) ResolveOne(ctx context.Context, id string, kinds []int) resolver.Result {
	return f.results[id]
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, id string, kinds []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, id)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Identity.Custody = config.CustodyUser
	cfg.Relays.Seeds = []string{"wss://relay.test"}
	cfg.Publish.MinRelayAcks = 1
	return cfg
}

func testLogger() *ops.Logger {
	return ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
}

func docDraft(id string) *store.Draft {
	return &store.Draft{
		ID:          id,
		OwnerPubKey: testPubkey,
		Kind:        store.DraftDocument,
		Title:       "Doc " + id,
		Content:     "body",
	}
}

func courseDraft(id string, childIDs ...string) (*store.Draft, []store.DraftChild) {
	draft := &store.Draft{
		ID:          id,
		OwnerPubKey: testPubkey,
		Kind:        store.DraftCourse,
		Title:       "Course " + id,
	}
	children := make([]store.DraftChild, len(childIDs))
	for i, cid := range childIDs {
		children[i] = store.DraftChild{
			DraftID:      id,
			Position:     i,
			ChildDraftID: sql.NullString{String: cid, Valid: true},
		}
	}
	return draft, children
}

func newTestOrchestrator(st *fakeStore, bc *fakeBroadcaster, cache *fakeCache) *Orchestrator {
	var inv CacheInvalidator
	if cache != nil {
		inv = cache
	}
	return New(st, bc, testConfig(), inv, testLogger())
}

func TestPublish_SimpleDocument(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	bc := &fakeBroadcaster{accepted: 2}
	cache := &fakeCache{}
	orch := newTestOrchestrator(st, bc, cache)

	sg := &fakeSigner{pubkey: testPubkey}
	receipt, err := orch.Publish(context.Background(), "d1", Options{Signer: sg})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if receipt.Accepted != 2 {
		t.Errorf("Expected 2 acks, got %d", receipt.Accepted)
	}
	if receipt.Address.Identifier != "d1" {
		t.Errorf("Expected d-tag to be the draft id, got %s", receipt.Address.Identifier)
	}
	if receipt.Address.Kind != 30023 {
		t.Errorf("Expected kind 30023 for an unpriced document, got %d", receipt.Address.Kind)
	}
	if st.upserts != 1 {
		t.Errorf("Expected one persisted record, got %d", st.upserts)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "d1" {
		t.Errorf("Expected cache invalidation for d1, got %v", cache.invalidated)
	}

	run, ok := orch.Run("d1")
	if !ok {
		t.Fatal("Expected a run handle")
	}
	if run.State() != StateDone {
		t.Errorf("Expected done run, got %s", run.State())
	}
}

func TestPublish_PricedDocumentIsListing(t *testing.T) {
	st := newFakeStore()
	draft := docDraft("d1")
	draft.Price = 5000
	st.drafts["d1"] = draft
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	receipt, err := orch.Publish(context.Background(), "d1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if receipt.Address.Kind != 30402 {
		t.Errorf("Expected listing kind 30402 for priced content, got %d", receipt.Address.Kind)
	}
}

func TestPublish_DeclinedBeforeBroadcast(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	sg := &fakeSigner{pubkey: testPubkey, signErr: signer.ErrDeclined}
	_, err := orch.Publish(context.Background(), "d1", Options{Signer: sg})

	if !errors.Is(err, ErrSigningDeclined) {
		t.Fatalf("Expected ErrSigningDeclined, got %v", err)
	}
	if bc.broadcastCount() != 0 {
		t.Errorf("Declined signature must not reach the network, got %d broadcasts", bc.broadcastCount())
	}
	if st.upserts != 0 {
		t.Errorf("Declined signature must not persist, got %d upserts", st.upserts)
	}

	run, _ := orch.Run("d1")
	if run.State() != StateFailed {
		t.Errorf("Expected failed run, got %s", run.State())
	}
	failed, ok := run.FailedStep()
	if !ok || failed.ID != StepSign {
		t.Errorf("Expected the sign step to carry the failure, got %+v", failed)
	}
}

func TestPublish_BroadcastBelowThreshold(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)
	orch.cfg.Publish.MinRelayAcks = 3

	_, err := orch.Publish(context.Background(), "d1", Options{Signer: &fakeSigner{pubkey: testPubkey}})

	if !errors.Is(err, ErrBroadcastRejected) {
		t.Fatalf("Expected ErrBroadcastRejected, got %v", err)
	}
	if st.upserts != 0 {
		t.Errorf("Rejected broadcast must not persist, got %d upserts", st.upserts)
	}
}

func TestPublish_PersistenceInconsistency(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	st.upsertErr = fmt.Errorf("disk full")
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	_, err := orch.Publish(context.Background(), "d1", Options{Signer: &fakeSigner{pubkey: testPubkey}})

	if !errors.Is(err, ErrPersistenceInconsistency) {
		t.Fatalf("Expected ErrPersistenceInconsistency, got %v", err)
	}
	if bc.broadcastCount() != 1 {
		t.Errorf("The event was broadcast before the persist failure, got %d", bc.broadcastCount())
	}
}

func TestPublish_OwnershipMismatch(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	st.published["d1"] = &store.PublishedRecord{
		DraftID:     "d1",
		Address:     "30023:" + testPubkey + ":d1",
		OwnerPubKey: testPubkey,
	}
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	other := &fakeSigner{pubkey: "e8b487c079b0f67c695ae6c4c2552a47f38adfa2533cc5926bd2c102942fdcb7"}
	_, err := orch.Publish(context.Background(), "d1", Options{Signer: other})

	if !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatalf("Expected ErrOwnershipMismatch, got %v", err)
	}
	if bc.broadcastCount() != 0 {
		t.Errorf("Mismatched authority must not broadcast, got %d", bc.broadcastCount())
	}
}

func TestPublish_Course_ChildrenFirstInOrder(t *testing.T) {
	st := newFakeStore()
	course, children := courseDraft("c1", "l1", "l2")
	st.drafts["c1"] = course
	st.drafts["l1"] = docDraft("l1")
	st.drafts["l2"] = docDraft("l2")
	st.children["c1"] = children
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	receipt, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(receipt.Children) != 2 {
		t.Fatalf("Expected 2 child refs, got %d", len(receipt.Children))
	}
	if receipt.Children[0].Address.Identifier != "l1" || receipt.Children[1].Address.Identifier != "l2" {
		t.Errorf("Child order not preserved: %+v", receipt.Children)
	}

	// Lessons broadcast before the course, course event last.
	if bc.broadcastCount() != 3 {
		t.Fatalf("Expected 3 broadcasts, got %d", bc.broadcastCount())
	}
	last := bc.events[2]
	if last.Kind != 30004 {
		t.Errorf("Expected the course (kind 30004) to broadcast last, got %d", last.Kind)
	}
	aTags := 0
	for _, tag := range last.Tags {
		if len(tag) >= 2 && tag[0] == "a" {
			aTags++
		}
	}
	if aTags != 2 {
		t.Errorf("Expected 2 a-tags on the course event, got %d", aTags)
	}

	for _, id := range []string{"l1", "l2", "c1"} {
		if _, ok := st.published[id]; !ok {
			t.Errorf("Expected published record for %s", id)
		}
	}
}

func TestPublish_Course_ChildFailureHaltsParent(t *testing.T) {
	st := newFakeStore()
	course, children := courseDraft("c1", "l1", "l2")
	st.drafts["c1"] = course
	st.drafts["l1"] = &store.Draft{ID: "l1", OwnerPubKey: testPubkey, Kind: store.DraftDocument}
	st.drafts["l2"] = docDraft("l2")
	st.children["c1"] = children
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	_, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err == nil {
		t.Fatal("Expected the untitled lesson to fail the run")
	}

	if bc.broadcastCount() != 0 {
		t.Errorf("Expected zero broadcasts when the first lesson fails, got %d", bc.broadcastCount())
	}

	run, _ := orch.Run("c1")
	failed, ok := run.FailedStep()
	if !ok || failed.ID != StepChildren {
		t.Errorf("Expected publish-children to carry the failure, got %+v", failed)
	}
}

func TestPublish_Course_PublishedChildReused(t *testing.T) {
	st := newFakeStore()
	course, children := courseDraft("c1", "l1")
	st.drafts["c1"] = course
	st.drafts["l1"] = docDraft("l1")
	st.children["c1"] = children
	st.published["l1"] = &store.PublishedRecord{
		DraftID:     "l1",
		Address:     "30023:" + testPubkey + ":l1",
		EventID:     "existing",
		OwnerPubKey: testPubkey,
		Kind:        30023,
	}
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	receipt, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Only the course itself broadcast; the lesson kept its identity.
	if bc.broadcastCount() != 1 {
		t.Errorf("Expected 1 broadcast, got %d", bc.broadcastCount())
	}
	if receipt.Children[0].Address.Identifier != "l1" {
		t.Errorf("Expected the existing lesson address, got %+v", receipt.Children[0])
	}
}

func TestPublish_Course_ExternalChildKeepsAuthor(t *testing.T) {
	otherAuthor := "e8b487c079b0f67c695ae6c4c2552a47f38adfa2533cc5926bd2c102942fdcb7"
	st := newFakeStore()
	course, _ := courseDraft("c1")
	st.drafts["c1"] = course
	st.children["c1"] = []store.DraftChild{
		{DraftID: "c1", Position: 0, Address: sql.NullString{String: "30023:" + otherAuthor + ":guest-lesson", Valid: true}},
	}
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	receipt, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if receipt.Children[0].Author != otherAuthor {
		t.Errorf("Expected the guest lesson to keep its author, got %s", receipt.Children[0].Author)
	}
}

func TestPublish_Course_DirectIDChildKeepsRealAuthor(t *testing.T) {
	foreignAuthor := "e8b487c079b0f67c695ae6c4c2552a47f38adfa2533cc5926bd2c102942fdcb7"
	foreignEventID := "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"

	st := newFakeStore()
	course, _ := courseDraft("c1")
	st.drafts["c1"] = course
	st.children["c1"] = []store.DraftChild{
		{DraftID: "c1", Position: 0, Address: sql.NullString{String: foreignEventID, Valid: true}},
	}
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)
	orch.SetNoteResolver(&fakeNoteResolver{results: map[string]resolver.Result{
		foreignEventID: {Note: &nostr.Event{ID: foreignEventID, PubKey: foreignAuthor, Kind: 1}},
	}})

	receipt, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if receipt.Children[0].Author != foreignAuthor {
		t.Errorf("Expected the event's real author, got %s", receipt.Children[0].Author)
	}

	// The course references the direct id as an e-tag carrying the real
	// author; no a-tag holds a bare event id.
	courseEvent := bc.events[0]
	var eTag nostr.Tag
	for _, tag := range courseEvent.Tags {
		if len(tag) >= 2 && tag[0] == "a" && tag[1] == foreignEventID {
			t.Errorf("Direct event id must not appear as an a-tag: %v", tag)
		}
		if len(tag) >= 2 && tag[0] == "e" && tag[1] == foreignEventID {
			eTag = tag
		}
	}
	if eTag == nil {
		t.Fatal("Expected an e-tag for the direct-id lesson")
	}
	if len(eTag) < 4 || eTag[3] != foreignAuthor {
		t.Errorf("Expected the e-tag to carry the real author, got %v", eTag)
	}
}

func TestPublish_Course_DirectIDChildResolveFailure(t *testing.T) {
	foreignEventID := "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"

	st := newFakeStore()
	course, _ := courseDraft("c1")
	st.drafts["c1"] = course
	st.children["c1"] = []store.DraftChild{
		{DraftID: "c1", Position: 0, Address: sql.NullString{String: foreignEventID, Valid: true}},
	}
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)
	orch.SetNoteResolver(&fakeNoteResolver{results: map[string]resolver.Result{
		foreignEventID: {Err: "relay unreachable"},
	}})

	_, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err == nil {
		t.Fatal("Expected an unattributable lesson to fail the run")
	}
	if bc.broadcastCount() != 0 {
		t.Errorf("Expected zero broadcasts, got %d", bc.broadcastCount())
	}

	run, _ := orch.Run("c1")
	failed, ok := run.FailedStep()
	if !ok || failed.ID != StepChildren {
		t.Errorf("Expected publish-children to carry the failure, got %+v", failed)
	}
}

func TestPublish_OwnershipCheckStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	st.findPubErr = fmt.Errorf("database is locked")
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	_, err := orch.Publish(context.Background(), "d1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err == nil {
		t.Fatal("Expected a store failure to fail the run")
	}
	if bc.broadcastCount() != 0 {
		t.Errorf("An unverifiable ownership check must not broadcast, got %d", bc.broadcastCount())
	}

	run, _ := orch.Run("d1")
	failed, ok := run.FailedStep()
	if !ok || failed.ID != StepSign {
		t.Errorf("Expected the sign step to carry the failure, got %+v", failed)
	}
}

func TestPublish_InFlightRunBlocksClaim(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	orch := newTestOrchestrator(st, &fakeBroadcaster{accepted: 1}, nil)

	inFlight := newRun("d1", false)
	inFlight.start(StepValidate)
	orch.runs.Store("d1", inFlight)

	// The claim inside the pipeline rejects even callers that slipped past
	// the early guard.
	_, err := orch.publishStepwise(context.Background(), "d1", &fakeSigner{pubkey: testPubkey})
	if !errors.Is(err, ErrAlreadyPublishing) {
		t.Fatalf("Expected ErrAlreadyPublishing, got %v", err)
	}

	got, _ := orch.runs.Load("d1")
	if got != inFlight {
		t.Error("The in-flight run must not be replaced by the losing caller")
	}
}

func TestPublish_Course_CycleDetected(t *testing.T) {
	st := newFakeStore()
	course, children := courseDraft("c1", "c1")
	st.drafts["c1"] = course
	st.children["c1"] = children
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	_, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err == nil {
		t.Fatal("Expected a cycle error")
	}
	if bc.broadcastCount() != 0 {
		t.Errorf("Expected zero broadcasts for a cyclic course, got %d", bc.broadcastCount())
	}
}

func TestPublish_Course_EmptyRejected(t *testing.T) {
	st := newFakeStore()
	course, _ := courseDraft("c1")
	st.drafts["c1"] = course
	orch := newTestOrchestrator(st, &fakeBroadcaster{accepted: 1}, nil)

	_, err := orch.Publish(context.Background(), "c1", Options{Signer: &fakeSigner{pubkey: testPubkey}})
	if err == nil {
		t.Fatal("Expected a course with no lessons to be rejected")
	}
}

func TestPublish_PlatformCustody(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}

	st := newFakeStore()
	draft := docDraft("d1")
	draft.OwnerPubKey = pk
	st.drafts["d1"] = draft
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)

	receipt, err := orch.Publish(context.Background(), "d1", Options{
		Custody: config.CustodyPlatform,
		Secret:  sk,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if receipt.Address.PubKey != pk {
		t.Errorf("Expected the platform key as author, got %s", receipt.Address.PubKey)
	}

	// The delegated path reports completion markers for every step.
	run, _ := orch.Run("d1")
	if run.State() != StateDone {
		t.Errorf("Expected done run, got %s", run.State())
	}
	for _, step := range run.Steps() {
		if step.Status != StepCompleted {
			t.Errorf("Step %s not marked completed: %s", step.ID, step.Status)
		}
	}
}

func TestPublish_PlatformCustody_MissingSecret(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	orch := newTestOrchestrator(st, &fakeBroadcaster{accepted: 1}, nil)

	_, err := orch.Publish(context.Background(), "d1", Options{Custody: config.CustodyPlatform})
	if err == nil {
		t.Error("Expected error without a signing secret")
	}
}

func TestPublish_UserCustody_MissingSigner(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	orch := newTestOrchestrator(st, &fakeBroadcaster{accepted: 1}, nil)

	_, err := orch.Publish(context.Background(), "d1", Options{Custody: config.CustodyUser})
	if err == nil {
		t.Error("Expected error without a signer session")
	}
}

func TestPublish_RepublishSameAddress(t *testing.T) {
	st := newFakeStore()
	st.drafts["d1"] = docDraft("d1")
	bc := &fakeBroadcaster{accepted: 1}
	orch := newTestOrchestrator(st, bc, nil)
	sg := &fakeSigner{pubkey: testPubkey}

	first, err := orch.Publish(context.Background(), "d1", Options{Signer: sg})
	if err != nil {
		t.Fatalf("First publish error = %v", err)
	}
	second, err := orch.Publish(context.Background(), "d1", Options{Signer: sg})
	if err != nil {
		t.Fatalf("Second publish error = %v", err)
	}

	if first.Address.Coordinate() != second.Address.Coordinate() {
		t.Errorf("Republication must land on the same address: %s vs %s",
			first.Address.Coordinate(), second.Address.Coordinate())
	}
	if st.upserts != 2 {
		t.Errorf("Expected two upserts converging on one row, got %d", st.upserts)
	}
}

func TestRunSteps_CompositeHasChildrenStep(t *testing.T) {
	run := newRun("c1", true)
	ids := make([]string, 0, len(run.Steps()))
	for _, s := range run.Steps() {
		ids = append(ids, s.ID)
	}
	want := []string{StepValidate, StepChildren, StepBuild, StepSign, StepBroadcast, StepPersist, StepFinalize}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d steps, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	simple := newRun("d1", false)
	for _, s := range simple.Steps() {
		if s.ID == StepChildren {
			t.Error("Simple draft must not carry a publish-children step")
		}
	}
}
