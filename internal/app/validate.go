package app

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/transfa/payflow/internal/domain"
)

const (
	// DefaultMaxAmount is 5,000,000 NGN in kobo.
	DefaultMaxAmount     = int64(500_000_000)
	MaxDescriptionLength = 100
	minUsernameLength    = 3
	maxUsernameLength    = 30
)

var (
	nigerianPhonePattern = regexp.MustCompile(`^(\+?234|0)[789][01]\d{8}$`)
	smartcardPattern     = regexp.MustCompile(`^\d{10,12}$`)
	nubanPattern         = regexp.MustCompile(`^\d{10}$`)
	usernamePattern      = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	billReferencePattern = regexp.MustCompile(`^[A-Za-z0-9-]{4,30}$`)
)

// Limits bounds what Validate accepts.
type Limits struct {
	MaxAmount int64
}

// Validate checks a request before any side effect happens. It returns a
// *domain.ValidationError naming the first offending field.
func Validate(req domain.TransactionRequest, limits Limits) error {
	if !req.Kind.Known() {
		return &domain.ValidationError{Field: "kind", Message: "unsupported transaction type"}
	}

	maxAmount := limits.MaxAmount
	if maxAmount <= 0 {
		maxAmount = DefaultMaxAmount
	}
	if req.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if req.Amount > maxAmount {
		return &domain.ValidationError{Field: "amount", Message: "amount exceeds the maximum allowed"}
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return &domain.ValidationError{Field: "recipient", Message: "recipient is required"}
	}
	if err := validateRecipient(req.Kind, recipient); err != nil {
		return err
	}

	if utf8.RuneCountInString(req.Description) > MaxDescriptionLength {
		return &domain.ValidationError{Field: "description", Message: "description must be 100 characters or fewer"}
	}
	return nil
}

func validateRecipient(kind domain.TransactionKind, recipient string) error {
	switch kind {
	case domain.KindAirtime, domain.KindData:
		if !nigerianPhonePattern.MatchString(strings.ReplaceAll(recipient, " ", "")) {
			return &domain.ValidationError{Field: "recipient", Message: "enter a valid phone number"}
		}
	case domain.KindCableTV:
		if !smartcardPattern.MatchString(recipient) {
			return &domain.ValidationError{Field: "recipient", Message: "smartcard number must be 10 to 12 digits"}
		}
	case domain.KindCashOut:
		if !nubanPattern.MatchString(recipient) {
			return &domain.ValidationError{Field: "recipient", Message: "account number must be 10 digits"}
		}
	case domain.KindBillPayment:
		if !billReferencePattern.MatchString(recipient) {
			return &domain.ValidationError{Field: "recipient", Message: "enter a valid customer reference"}
		}
	case domain.KindSendMoney:
		username := strings.TrimPrefix(recipient, "@")
		if len(username) < minUsernameLength || len(username) > maxUsernameLength || !usernamePattern.MatchString(username) {
			return &domain.ValidationError{Field: "recipient", Message: "enter a valid username"}
		}
	}
	return nil
}
