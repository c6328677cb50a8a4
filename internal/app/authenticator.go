package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/transfa/payflow/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// BcryptAuthenticator keeps bcrypt hashes of transaction PINs in memory, keyed
// by subject. PINs are set through the create+confirm flow.
type BcryptAuthenticator struct {
	mu     sync.RWMutex
	hashes map[string][]byte
	cost   int
}

func NewBcryptAuthenticator(cost int) *BcryptAuthenticator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptAuthenticator{hashes: make(map[string][]byte), cost: cost}
}

// SetPIN hashes pin and stores it for subject, replacing any previous PIN.
func (a *BcryptAuthenticator) SetPIN(subject, pin string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return errors.New("subject is required")
	}
	if pin == "" {
		return errors.New("pin is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), a.cost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[subject] = hash
	return nil
}

// HasPIN reports whether subject has set a PIN.
func (a *BcryptAuthenticator) HasPIN(subject string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.hashes[strings.TrimSpace(subject)]
	return ok
}

func (a *BcryptAuthenticator) VerifyPIN(_ context.Context, subject, pin string) error {
	a.mu.RLock()
	hash, ok := a.hashes[strings.TrimSpace(subject)]
	a.mu.RUnlock()
	if !ok {
		return domain.ErrPINNotSet
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return domain.ErrInvalidPIN
	}
	return err
}

// AttemptLimiter counts failed attempts per subject inside a window.
type AttemptLimiter interface {
	// Consume records one failed attempt and returns the count in the current
	// window and the seconds until it resets.
	Consume(ctx context.Context, scope, subject string, window time.Duration) (count int, retryAfterSeconds int, err error)
	// Locked reports whether subject has reached limit in the current window.
	Locked(ctx context.Context, scope, subject string, limit int) (bool, error)
	// Reset clears the counter after a successful attempt.
	Reset(ctx context.Context, scope, subject string) error
}

const pinAttemptScope = "pin_attempts"

// AttemptLimitedAuthenticator locks a subject out for a window after too many
// wrong PINs. Limiter failures are logged and do not block verification.
type AttemptLimitedAuthenticator struct {
	next        PINAuthenticator
	limiter     AttemptLimiter
	maxAttempts int
	lockout     time.Duration
	logger      *zap.Logger
}

func NewAttemptLimitedAuthenticator(next PINAuthenticator, limiter AttemptLimiter, maxAttempts int, lockout time.Duration, logger *zap.Logger) *AttemptLimitedAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptLimitedAuthenticator{
		next:        next,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		logger:      logger.With(zap.String("component", "pin_limiter")),
	}
}

func (a *AttemptLimitedAuthenticator) VerifyPIN(ctx context.Context, subject, pin string) error {
	if a.limiter == nil || a.maxAttempts <= 0 || a.lockout <= 0 {
		return a.next.VerifyPIN(ctx, subject, pin)
	}

	locked, err := a.limiter.Locked(ctx, pinAttemptScope, subject, a.maxAttempts)
	if err != nil {
		a.logger.Warn("attempt limiter unavailable", zap.Error(err))
	} else if locked {
		return domain.ErrPINLocked
	}

	verifyErr := a.next.VerifyPIN(ctx, subject, pin)
	switch {
	case verifyErr == nil:
		if err := a.limiter.Reset(ctx, pinAttemptScope, subject); err != nil {
			a.logger.Warn("attempt counter reset failed", zap.Error(err))
		}
		return nil
	case errors.Is(verifyErr, domain.ErrInvalidPIN):
		count, retryAfter, err := a.limiter.Consume(ctx, pinAttemptScope, subject, a.lockout)
		if err != nil {
			a.logger.Warn("attempt counter update failed", zap.Error(err))
			return verifyErr
		}
		if count >= a.maxAttempts {
			a.logger.Warn("pin locked", zap.String("subject", subject), zap.Int("retry_after_seconds", retryAfter))
			return domain.ErrPINLocked
		}
		return verifyErr
	default:
		return verifyErr
	}
}
