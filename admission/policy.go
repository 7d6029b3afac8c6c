package admission

// UncertainOutcome is what the pipeline does when a collaborator check
// errors out instead of answering.
type UncertainOutcome int

const (
	// ProceedOpen continues processing with the neutral assumption for the
	// failed check: not trusted, not an invalid account, no prior exchange,
	// zero common groups.
	ProceedOpen UncertainOutcome = iota
	// ProceedClosed drops the message without changing any sender state.
	ProceedClosed
)

// UncertaintyPolicy decides the pipeline's posture for one failed check. The
// op names the check ("whitelist-read", "classify-account", "prior-exchange",
// "common-groups").
type UncertaintyPolicy func(op string, err error) UncertainOutcome

// FailOpen is the default policy: a degraded collaborator must never lock
// legitimate senders out or trigger punitive action, so uncertain checks
// proceed with the neutral assumption. The worst case is a trusted sender
// being re-challenged, which they can pass.
func FailOpen(op string, err error) UncertainOutcome {
	return ProceedOpen
}

// FailClosed drops messages whose checks cannot complete. Senders stay in
// whatever state they were in; nothing is admitted, challenged, or rejected
// on partial information.
func FailClosed(op string, err error) UncertainOutcome {
	return ProceedClosed
}

// decideUncertain logs, counts, and applies the configured policy for a
// failed collaborator check.
func (eng *Engine) decideUncertain(op string, err error) UncertainOutcome {
	uncertainChecks.WithLabelValues(op).Inc()
	policy := eng.Policy
	if policy == nil {
		policy = FailOpen
	}
	return policy(op, err)
}
