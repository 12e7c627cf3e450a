package domain

// Outcome distinguishes a freshly created record from an idempotent replay.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
)
