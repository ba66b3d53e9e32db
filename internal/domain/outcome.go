package domain

// Outcome is the single terminal result of one verification run.
type Outcome string

const (
	OutcomeVerified           Outcome = "verified"
	OutcomeCorrelated         Outcome = "correlated"
	OutcomeExchangeFailed     Outcome = "exchange_failed"
	OutcomeCorrelationInvalid Outcome = "correlation_invalid"
	OutcomeBlockedMuted       Outcome = "blocked_muted"
	OutcomeBlockedAltFlag     Outcome = "blocked_alt_flag"
	OutcomeBlockedAltDetected Outcome = "blocked_alt_detected"
	OutcomeBlockedMobile      Outcome = "blocked_mobile"
	OutcomeBlockedProxy       Outcome = "blocked_proxy"
	OutcomeFailed             Outcome = "failed"
)

// Passed reports whether the outcome lets the browser continue to the success page.
func (o Outcome) Passed() bool {
	return o == OutcomeVerified || o == OutcomeCorrelated
}
