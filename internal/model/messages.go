// Package model holds the plain data structures shared between services:
// the message payloads carried by the durable log and the saga outcome codes.
package model

// CollectionResult is the payload published to the collection-results topic
// after a collection cycle updated an airport. One message is emitted per
// qualifying subscription per cycle, never one per threshold.
type CollectionResult struct {
	UserEmail    string `json:"user_email"`
	AirportICAO  string `json:"airport_icao"`
	FlightsCount int    `json:"flights_count"`
	HighValue    *int   `json:"high_value"`
	LowValue     *int   `json:"low_value"`
}

// Notification is the payload published to the notifications topic,
// ready for outbound delivery.
type Notification struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SagaOutcome describes how far a cross-service delete progressed.
// It is ephemeral: it exists only for the duration of one delete call.
type SagaOutcome int

const (
	// SagaNotStarted means the pivot was never attempted.
	SagaNotStarted SagaOutcome = iota
	// SagaPivotFailed means remote cleanup failed and no local mutation
	// happened. The whole operation is safe to retry.
	SagaPivotFailed
	// SagaCompleted means remote cleanup and local delete both succeeded.
	SagaCompleted
	// SagaLocalPending means remote cleanup succeeded but the local delete
	// exhausted its retries. The remote side is already clean, so re-running
	// the whole saga is a recovery path, not a duplicate deletion.
	SagaLocalPending
)

// String returns the outcome name.
func (o SagaOutcome) String() string {
	switch o {
	case SagaNotStarted:
		return "not-started"
	case SagaPivotFailed:
		return "pivot-failed"
	case SagaCompleted:
		return "completed"
	case SagaLocalPending:
		return "completed-with-manual-retry-required"
	default:
		return "unknown"
	}
}
