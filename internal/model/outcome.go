package model

// Outcome is the terminal result code a checker reports for an item.
type Outcome int

const (
	OutcomeSuccess Outcome = 1
	OutcomeFailure Outcome = 2 // Stable negative; the only cacheable class
	OutcomeUnknown Outcome = 3
	OutcomeError   Outcome = 4
)

// Valid reports whether o is a known outcome code.
func (o Outcome) Valid() bool {
	return o >= OutcomeSuccess && o <= OutcomeError
}

// Status returns the resolved item status for the outcome.
func (o Outcome) Status() ItemStatus {
	switch o {
	case OutcomeSuccess:
		return ItemStatusResolvedSuccess
	case OutcomeFailure:
		return ItemStatusResolvedFailure
	case OutcomeUnknown:
		return ItemStatusResolvedUnknown
	default:
		return ItemStatusResolvedError
	}
}

// Cacheable reports whether the outcome is durable enough to store in the
// result cache. Positive and inconclusive results vary across attempts.
func (o Outcome) Cacheable() bool {
	return o == OutcomeFailure
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeError:
		return "error"
	default:
		return "invalid"
	}
}
