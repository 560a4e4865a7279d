package events

import (
	"fmt"

	"github.com/dvloznov/paysync/internal/domain"
)

// UnconfirmedMessage is shown when polling gave up without a server answer.
const UnconfirmedMessage = "We could not confirm this payment yet. Please check your transaction history before trying again."

// UserMessage returns the text to show the user for a submission outcome.
// Rejections show the server's own wording.
func UserMessage(o Outcome) string {
	switch o.Kind {
	case OutcomeSubmitted:
		if o.Ref != nil && o.Ref.TransactionRef != "" {
			return fmt.Sprintf("Payment sent. Reference %s.", o.Ref.TransactionRef)
		}
		return "Payment sent."
	case OutcomeQueued:
		return "You are offline. The payment was saved and will be sent when you reconnect."
	case OutcomeRetryScheduled:
		return "The payment could not be sent yet. It will be retried automatically."
	case OutcomePaused:
		return "Your session has expired. Sign in again to send queued payments."
	case OutcomeAbandoned, OutcomeRejected:
		if o.Message != "" {
			return o.Message
		}
		return "The payment could not be sent."
	}
	return ""
}

// StatusMessage returns the text to show for a tracked transaction status.
func StatusMessage(s domain.TransactionStatus) string {
	switch s.State {
	case domain.StatusPending:
		return "Payment pending."
	case domain.StatusProcessing:
		return "Payment processing."
	case domain.StatusCompleted:
		return "Payment completed."
	case domain.StatusFailed:
		if s.FailureReason != "" {
			return s.FailureReason
		}
		return "Payment failed."
	case domain.StatusCancelled:
		return "Payment cancelled."
	case domain.StatusTimedOut:
		return UnconfirmedMessage
	}
	return ""
}
