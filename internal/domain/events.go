package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTransactionSucceeded  = "transaction.succeeded"
	EventTransactionFailed     = "transaction.failed"
	EventPINSetupCodeRequested = "pin.setup_code_requested"
)

// TransactionEvent is the payload sent to the notification dispatcher when a
// pipeline finishes.
type TransactionEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Subject       string          `json:"subject,omitempty"`
	Kind          TransactionKind `json:"kind"`
	Amount        int64           `json:"amount"`
	Fee           int64           `json:"fee,omitempty"`
	Recipient     string          `json:"recipient"`
	Reference     string          `json:"reference,omitempty"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewSucceededEvent builds the event for a successful transaction.
func NewSucceededEvent(subject string, req TransactionRequest, receipt *Receipt, at time.Time) TransactionEvent {
	evt := TransactionEvent{
		EventID:       uuid.NewString(),
		EventType:     EventTransactionSucceeded,
		TransactionID: req.ID,
		Subject:       subject,
		Kind:          req.Kind,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		Status:        "completed",
		OccurredAt:    at,
	}
	if receipt != nil {
		evt.Fee = receipt.Fee
		evt.Reference = receipt.Reference
		if receipt.Status != "" {
			evt.Status = receipt.Status
		}
	}
	return evt
}

// NewFailedEvent builds the event for a failed transaction.
func NewFailedEvent(subject string, req TransactionRequest, reason string, at time.Time) TransactionEvent {
	return TransactionEvent{
		EventID:       uuid.NewString(),
		EventType:     EventTransactionFailed,
		TransactionID: req.ID,
		Subject:       subject,
		Kind:          req.Kind,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		Status:        "failed",
		Reason:        reason,
		OccurredAt:    at,
	}
}

// PINSetupCodeEvent asks the notification service to send the user a code
// for the PIN create flow.
type PINSetupCodeEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Subject     string    `json:"subject"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewPINSetupCodeEvent(subject string, at time.Time) PINSetupCodeEvent {
	return PINSetupCodeEvent{
		EventID:     uuid.NewString(),
		EventType:   EventPINSetupCodeRequested,
		Subject:     subject,
		RequestedAt: at,
	}
}
