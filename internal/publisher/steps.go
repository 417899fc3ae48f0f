package publisher

import "sync"

// Step statuses.
const (
	StepPending    = "pending"
	StepProcessing = "processing"
	StepCompleted  = "completed"
	StepError      = "error"
)

// Step identifiers, in pipeline order.
const (
	StepValidate  = "validate"
	StepChildren  = "publish-children"
	StepBuild     = "build-event"
	StepSign      = "sign"
	StepBroadcast = "broadcast"
	StepPersist   = "persist"
	StepFinalize  = "finalize"
)

// Run states derived from the step list.
const (
	StatePublishing = "publishing"
	StateDone       = "done"
	StateFailed     = "failed"
)

// Step is one named node of a publish run's state machine.
type Step struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Details    string `json:"details,omitempty"`
	ErrMessage string `json:"errorMessage,omitempty"`
}

// Run is the step-observable handle of one in-flight publish. It is owned by
// exactly one orchestration run; a new run for the same draft replaces it.
type Run struct {
	mu      sync.Mutex
	draftID string
	steps   []*Step
}

func newRun(draftID string, composite bool) *Run {
	steps := []*Step{
		{ID: StepValidate, Title: "Validate draft", Status: StepPending},
	}
	if composite {
		steps = append(steps, &Step{ID: StepChildren, Title: "Publish lessons", Status: StepPending})
	}
	steps = append(steps,
		&Step{ID: StepBuild, Title: "Build event", Status: StepPending},
		&Step{ID: StepSign, Title: "Sign event", Status: StepPending},
		&Step{ID: StepBroadcast, Title: "Broadcast to relays", Status: StepPending},
		&Step{ID: StepPersist, Title: "Record published identity", Status: StepPending},
		&Step{ID: StepFinalize, Title: "Finalize", Status: StepPending},
	)

	return &Run{draftID: draftID, steps: steps}
}

// DraftID returns the draft this run publishes.
func (r *Run) DraftID() string {
	return r.draftID
}

// Steps returns a snapshot of the ordered step list.
func (r *Run) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Step, len(r.steps))
	for i, s := range r.steps {
		out[i] = *s
	}
	return out
}

// State derives the run's overall status: failed the instant any step errors,
// done once every step completed, publishing otherwise.
func (r *Run) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := 0
	for _, s := range r.steps {
		switch s.Status {
		case StepError:
			return StateFailed
		case StepCompleted:
			completed++
		}
	}
	if completed == len(r.steps) {
		return StateDone
	}
	return StatePublishing
}

// Publishing reports whether the run is still in flight.
func (r *Run) Publishing() bool {
	return r.State() == StatePublishing
}

// FailedStep returns the errored step, if any.
func (r *Run) FailedStep() (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.steps {
		if s.Status == StepError {
			return *s, true
		}
	}
	return Step{}, false
}

func (r *Run) start(id string) {
	r.setStatus(id, StepProcessing, "", "")
}

func (r *Run) complete(id, details string) {
	r.setStatus(id, StepCompleted, details, "")
}

func (r *Run) fail(id, errMsg string) {
	r.setStatus(id, StepError, "", errMsg)
}

// completeAll marks every step completed. The platform-custodied path uses
// this: the pipeline ran as one delegated call and only completion markers
// come back.
func (r *Run) completeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.steps {
		if s.Status != StepError {
			s.Status = StepCompleted
		}
	}
}

func (r *Run) setStatus(id, status, details, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.steps {
		if s.ID == id {
			s.Status = status
			if details != "" {
				s.Details = details
			}
			if errMsg != "" {
				s.ErrMessage = errMsg
			}
			return
		}
	}
}
