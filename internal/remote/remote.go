// Package remote defines the backend collaborators used to submit payments
// and read their status, plus the HTTP client that talks to the real backend.
package remote

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/paysync/internal/domain"
)

// SubmitRequest is a single payment submission.
type SubmitRequest struct {
	RecipientHandle string
	Amount          decimal.Decimal
	Description     string
	// IdempotencyKey lets the backend collapse duplicate deliveries.
	IdempotencyKey string
}

// SubmitResult is the backend's acknowledgement of a submission.
type SubmitResult struct {
	RemoteID     string
	Reference    string
	InitialState domain.StatusState
}

// StatusResult is one answer from the status endpoint.
type StatusResult struct {
	State         domain.StatusState
	Terminal      bool
	FailureReason string
}

// Submitter sends payments to the backend.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

// StatusFetcher reads the backend state of a submitted payment.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, remoteID string) (StatusResult, error)
}

// SubmitRequestFor builds the request for a queued record.
func SubmitRequestFor(rec domain.QueuedTransaction) SubmitRequest {
	return SubmitRequest{
		RecipientHandle: rec.RecipientHandle,
		Amount:          rec.Amount,
		Description:     rec.Description,
		IdempotencyKey:  rec.ID,
	}
}
