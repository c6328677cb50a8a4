package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/pinpad"
)

// Operation executes the transaction with the backend. Errors that are not
// already *domain.OperationError are wrapped into one by the orchestrator.
type Operation interface {
	Execute(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error)

func (f OperationFunc) Execute(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
	return f(ctx, req)
}

// KindRouter sends each transaction kind to its own Operation, falling back
// to Default for kinds without a route.
type KindRouter struct {
	Routes  map[domain.TransactionKind]Operation
	Default Operation
}

func (r KindRouter) Execute(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
	if op, ok := r.Routes[req.Kind]; ok && op != nil {
		return op.Execute(ctx, req)
	}
	if r.Default == nil {
		return nil, &domain.OperationError{Message: req.Kind.Label() + " is not available right now.", Code: "unsupported_kind"}
	}
	return r.Default.Execute(ctx, req)
}

// Dispatcher sends best-effort notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload any) error
}

// Navigator moves the client to another screen.
type Navigator interface {
	Navigate(destination string, params map[string]string)
}

// Alerter shows a blocking alert and returns once it is acknowledged or ctx is done.
type Alerter interface {
	Alert(ctx context.Context, alert domain.Alert) error
}

// GatePresenter shows the PIN pad for a transaction and hides it again.
type GatePresenter interface {
	PresentGate(txID uuid.UUID, gate *pinpad.Gate)
	DismissGate(txID uuid.UUID)
}

// PINAuthenticator checks a captured PIN. It returns domain.ErrInvalidPIN for a
// wrong PIN and domain.ErrPINLocked once no attempts remain.
type PINAuthenticator interface {
	VerifyPIN(ctx context.Context, subject, pin string) error
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, string, any) error { return nil }

type noopNavigator struct{}

func (noopNavigator) Navigate(string, map[string]string) {}

type noopAlerter struct{}

func (noopAlerter) Alert(context.Context, domain.Alert) error { return nil }
