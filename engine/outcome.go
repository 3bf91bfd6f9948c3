package engine

// Outcome is the result of evaluating one step or drip email against one
// recipient. Policy skips are expected outcomes, not errors; only
// OutcomeFailed marks a dispatch attempt that went wrong.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeNoStage     Outcome = "skipped_no_stage_timestamp"
	OutcomeTooEarly    Outcome = "skipped_too_early"
	OutcomeQuietHours  Outcome = "skipped_quiet_hours"
	OutcomeAlreadySent Outcome = "skipped_already_sent"
	OutcomeNoConsent   Outcome = "skipped_no_consent"
	OutcomeNoTemplate  Outcome = "skipped_no_template"
	OutcomeFailed      Outcome = "failed"
)

// IsSkip reports whether the outcome is a policy skip (neither a send nor
// a failure).
func (o Outcome) IsSkip() bool {
	return o != OutcomeSent && o != OutcomeFailed
}
