// Package history keeps an audit trail of submission outcomes and terminal
// statuses so a user told "could not confirm" has somewhere to look.
package history

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Event kinds stored in Row.Kind.
const (
	KindSubmission = "submission"
	KindStatus     = "status"
)

// Row is one history entry.
type Row struct {
	EventID        string              `bigquery:"event_id" json:"event_id"`               // REQUIRED
	Kind           string              `bigquery:"kind" json:"kind"`                       // REQUIRED
	TransactionID  bigquery.NullString `bigquery:"transaction_id" json:"transaction_id"`   // NULLABLE
	TransactionRef bigquery.NullString `bigquery:"transaction_ref" json:"transaction_ref"` // NULLABLE
	RemoteID       bigquery.NullString `bigquery:"remote_id" json:"remote_id"`             // NULLABLE
	// State holds the outcome kind for submissions and the status state for
	// status events.
	State      string              `bigquery:"state" json:"state"` // REQUIRED
	Attempts   int64               `bigquery:"attempts" json:"attempts"`
	Message    bigquery.NullString `bigquery:"message" json:"message"` // NULLABLE
	RecordedAt time.Time           `bigquery:"recorded_at" json:"recorded_at"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
