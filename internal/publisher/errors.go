package publisher

import "errors"

// The publish failure taxonomy. Each condition needs a different remedy, so
// each gets its own sentinel for the UI to branch on.
var (
	// ErrSigningDeclined: the user-custodied signer refused. Retrying
	// without new user action is pointless.
	ErrSigningDeclined = errors.New("user declined to sign the event")

	// ErrBroadcastRejected: fewer relays accepted the signed event than
	// the configured threshold. Retryable.
	ErrBroadcastRejected = errors.New("no relay accepted the broadcast")

	// ErrPersistenceInconsistency: the network accepted the event but the
	// local store failed to record it. The network now disagrees with the
	// local store; this must never be reported as a generic failure.
	ErrPersistenceInconsistency = errors.New("event broadcast but local persistence failed")

	// ErrOwnershipMismatch: a republish was attempted by a signing
	// authority that is not the original author. The UI uses this to fall
	// back to the user-custodied path.
	ErrOwnershipMismatch = errors.New("signing authority does not match the original author")

	// ErrAlreadyPublishing: a run for this draft is still in flight.
	ErrAlreadyPublishing = errors.New("a publish run for this draft is already in flight")
)
