/**
 * @description
 * This file defines the core domain models of the payflow module: the request a
 * money-movement screen submits, the receipt the external executor returns, and
 * the events and alerts produced while a transaction runs.
 *
 * @notes
 * - Amounts are int64 values in the smallest currency unit (kobo), matching the
 *   transaction-service contract and avoiding floating-point inaccuracies.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind identifies the money-movement screen that started a transaction.
type TransactionKind string

const (
	KindSendMoney   TransactionKind = "send_money"
	KindAirtime     TransactionKind = "airtime"
	KindData        TransactionKind = "data"
	KindCableTV     TransactionKind = "cable_tv"
	KindCashOut     TransactionKind = "cash_out"
	KindBillPayment TransactionKind = "bill_payment"
)

// Known reports whether k is one of the supported kinds.
func (k TransactionKind) Known() bool {
	switch k {
	case KindSendMoney, KindAirtime, KindData, KindCableTV, KindCashOut, KindBillPayment:
		return true
	default:
		return false
	}
}

// Label is the human-readable name used in toasts and alerts.
func (k TransactionKind) Label() string {
	switch k {
	case KindSendMoney:
		return "Transfer"
	case KindAirtime:
		return "Airtime purchase"
	case KindData:
		return "Data purchase"
	case KindCableTV:
		return "Cable TV subscription"
	case KindCashOut:
		return "Cash out"
	case KindBillPayment:
		return "Bill payment"
	default:
		return "Transaction"
	}
}

// Destination is the screen shown after a successful transaction of this kind.
func (k TransactionKind) Destination() string {
	switch k {
	case KindSendMoney:
		return "transfer-status"
	case KindAirtime, KindData:
		return "topup-receipt"
	case KindCableTV, KindBillPayment:
		return "bill-receipt"
	case KindCashOut:
		return "cashout-receipt"
	default:
		return "home"
	}
}

// TransactionRequest is the per-attempt input of the orchestrator. ID is minted
// by the orchestrator for every attempt, and Credential is attached after the
// capture gate completes. AuthToken is the caller's bearer token, forwarded
// to the transaction service.
type TransactionRequest struct {
	ID          uuid.UUID       `json:"transaction_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      int64           `json:"amount"` // in kobo
	Recipient   string          `json:"recipient"`
	Description string          `json:"description"`
	Credential  Credential      `json:"-"`
	AuthToken   string          `json:"-"`
}

// Credential is the secret captured by the PIN gate.
type Credential struct {
	PIN       string
	Biometric bool
}

// Receipt is returned by the external operation executor on success.
type Receipt struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference,omitempty"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	Message       string    `json:"message,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Alert is a blocking, acknowledgement-required dialog.
type Alert struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
}
