package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/transfa/payflow/internal/clock"
	"github.com/transfa/payflow/internal/domain"
)

// TransactionFee matches the transaction-service P2P fee (50 NGN in kobo).
const TransactionFee = 5000

// SimulatedOperation stands in for the transaction-service when none is
// configured. It debits an in-memory balance after a fixed latency.
type SimulatedOperation struct {
	Latency time.Duration
	Clock   clock.Clock

	mu      sync.Mutex
	balance int64
	seq     int
}

func NewSimulatedOperation(balance int64, latency time.Duration, clk clock.Clock) *SimulatedOperation {
	if clk == nil {
		clk = clock.New()
	}
	return &SimulatedOperation{Latency: latency, Clock: clk, balance: balance}
}

func (s *SimulatedOperation) Balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *SimulatedOperation) Execute(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if !req.Credential.Biometric && strings.TrimSpace(req.Credential.PIN) == "" {
		return nil, &domain.OperationError{Message: "Transaction PIN is required", Code: "pin_required", StatusCode: 401}
	}

	fee := int64(0)
	if req.Kind == domain.KindSendMoney || req.Kind == domain.KindCashOut {
		fee = TransactionFee
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Amount+fee > s.balance {
		return nil, &domain.OperationError{Message: "Insufficient funds", Code: "insufficient_funds", StatusCode: 400}
	}
	s.balance -= req.Amount + fee
	s.seq++

	return &domain.Receipt{
		TransactionID: req.ID,
		Reference:     fmt.Sprintf("SIM-%06d", s.seq),
		Status:        "completed",
		Amount:        req.Amount,
		Fee:           fee,
		Message:       req.Kind.Label() + " completed",
		CompletedAt:   s.Clock.Now(),
	}, nil
}

func (s *SimulatedOperation) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	timer := s.Clock.AfterFunc(s.Latency, func() { close(done) })
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
