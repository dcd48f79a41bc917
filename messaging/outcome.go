package messaging

// Outcome is the final state of one delivery
type Outcome int

const (
	// OutcomeSucceeded means the item was processed and acked
	OutcomeSucceeded Outcome = iota
	// OutcomeRetried means a copy with an incremented counter was published and the original acked
	OutcomeRetried
	// OutcomeDeadLettered means the item ran out of attempts and was rejected to the DLQ
	OutcomeDeadLettered
	// OutcomePoisoned means the body was not a valid envelope and was rejected to the DLQ
	OutcomePoisoned
	// OutcomeRequeued means the retry copy could not be published and the original went back to the queue
	OutcomeRequeued
	// OutcomeDrained means a dead letter was written to the audit sink and acked
	OutcomeDrained
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetried:
		return "retried"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomePoisoned:
		return "poisoned"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDrained:
		return "drained"
	default:
		return "unknown"
	}
}
