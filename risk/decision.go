package risk

// Decision is the closed two-variant result of a pre-trade or
// pre-withdrawal check. There is no third state and no partially-filled
// zero value a caller could mistake for acceptance — a Decision is only
// ever produced by Accept() or Reject(), and callers must inspect Ok
// before trusting the zero-value Reason.
type Decision struct {
	Ok     bool
	Reason string
}

// Accept returns an accepted Decision.
func Accept() Decision {
	return Decision{Ok: true}
}

// Reject returns a rejected Decision carrying a human-readable reason.
// The reason is surfaced verbatim in the TradeRejected/WithdrawalRejected
// event the engine synthesizes.
func Reject(reason string) Decision {
	return Decision{Ok: false, Reason: reason}
}
