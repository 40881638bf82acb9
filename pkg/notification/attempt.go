package notification

import "time"

// Outcome classifies a delivery attempt result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt is one append-only delivery ledger entry. Attempt numbers are
// 1-based and monotonic per notification; entries are never mutated.
type Attempt struct {
	ID             string
	NotificationID string
	Number         int
	Outcome        Outcome
	// StatusCode holds the HTTP status for webhook attempts; zero for email.
	StatusCode int
	// Response is the provider acknowledgement or response body snapshot.
	Response string
	Error    string
	At       time.Time
}
