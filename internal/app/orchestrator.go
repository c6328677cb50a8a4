/**
 * @description
 * This file contains the transaction orchestrator: the single pipeline every
 * "confirm and pay" action runs through. It composes the loading controller,
 * the PIN capture gate and the toast queue around an external Operation.
 *
 * Pipeline per Run:
 * 1. Validate the request. Nothing else happens on failure.
 * 2. Authorize through a Verify gate shown by the GatePresenter.
 * 3. Execute the Operation while the loading controller walks its phases.
 * 4. Report success (toast, event, delayed navigation) or failure (toast,
 *    event, blocking alert, reset).
 *
 * @dependencies
 * - internal/loading, internal/pinpad, internal/toast: the composed components.
 * - internal/monitor: prometheus pipeline metrics.
 * - go.uber.org/zap: structured logging.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payflow/internal/clock"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/loading"
	"github.com/transfa/payflow/internal/monitor"
	"github.com/transfa/payflow/internal/pinpad"
	"github.com/transfa/payflow/internal/toast"
	"go.uber.org/zap"
)

const (
	DefaultOperationTimeout = 60 * time.Second
	DefaultDispatchTimeout  = 5 * time.Second
)

// Options wires an Orchestrator. Loading, Toasts and Operation are required.
type Options struct {
	Loading       *loading.Controller
	Toasts        *toast.Queue
	Operation     Operation
	Dispatcher    Dispatcher
	Navigator     Navigator
	Alerter       Alerter
	Presenter     GatePresenter
	Authenticator PINAuthenticator

	Limits Limits
	// Gate configures the capture gate. The variant is always Verify.
	Gate pinpad.Config

	OperationTimeout time.Duration
	DispatchTimeout  time.Duration
	AlertTimeout     time.Duration
	ToastTTL         time.Duration

	// Subject identifies the user to the authenticator and in events.
	Subject string

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitor.Metrics
	NewID   func() uuid.UUID
}

// Orchestrator runs one pipeline at a time.
type Orchestrator struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	navTimer clock.Timer
	navGen   uint64
}

// NewOrchestrator validates opts and fills in defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Loading == nil {
		return nil, errors.New("loading controller is required")
	}
	if opts.Toasts == nil {
		return nil, errors.New("toast queue is required")
	}
	if opts.Operation == nil {
		return nil, errors.New("operation is required")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = noopDispatcher{}
	}
	if opts.Navigator == nil {
		opts.Navigator = noopNavigator{}
	}
	if opts.Alerter == nil {
		opts.Alerter = noopAlerter{}
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	opts.Gate.Variant = pinpad.Verify
	if opts.Gate.Clock == nil {
		opts.Gate.Clock = opts.Clock
	}

	return &Orchestrator{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// Busy reports whether a pipeline is running, a post-success navigation is
// pending or the loading controller is still showing a phase. Clients disable
// their confirm control while it is true.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	busy := o.running || o.navTimer != nil
	o.mu.Unlock()
	return busy || o.opts.Loading.Busy()
}

// Close cancels a pending navigation and rejects later runs.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.navGen++
	if o.navTimer != nil {
		o.navTimer.Stop()
		o.navTimer = nil
	}
}

// Run executes the full pipeline for req. Every call mints a new transaction
// id, so a retry after failure is a distinct transaction.
//
// Returned errors: *domain.ValidationError, domain.ErrBusy,
// domain.ErrCaptureCancelled, domain.ErrPINLocked, domain.ErrPINNotSet or
// *domain.OperationError.
// Only the last one is reported to the user through the loading phase, a
// toast and an alert.
func (o *Orchestrator) Run(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
	kind := string(req.Kind)
	if !o.begin() {
		o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeBusy)
		return nil, domain.ErrBusy
	}
	defer o.end()

	req.ID = o.opts.NewID()
	req.Credential = domain.Credential{}
	log := o.logger.With(zap.String("transaction_id", req.ID.String()), zap.String("kind", kind))

	if err := Validate(req, o.opts.Limits); err != nil {
		log.Info("transaction rejected by validation", zap.Error(err))
		o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeInvalid)
		return nil, err
	}

	gate := pinpad.New(o.opts.Gate)
	defer gate.Close()

	credential, err := o.authorize(ctx, req, gate, log)
	if err != nil {
		return nil, err
	}
	req.Credential = credential

	receipt, opErr := o.execute(ctx, req, log)
	if opErr != nil {
		// The gate is closed on return; a retry is a new Run with a fresh gate.
		o.reportFailure(ctx, req, opErr, log)
		o.opts.Loading.Stop()
		o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeFailed)
		return nil, opErr
	}

	o.reportSuccess(ctx, req, receipt, log)
	o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeSucceeded)
	return receipt, nil
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.closed || o.navTimer != nil || o.opts.Loading.Busy() {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// authorize presents the gate and waits for a credential. Wrong PINs are
// rejected on the gate and collection continues until success or lockout.
func (o *Orchestrator) authorize(ctx context.Context, req domain.TransactionRequest, gate *pinpad.Gate, log *zap.Logger) (domain.Credential, error) {
	kind := string(req.Kind)
	if o.opts.Presenter != nil {
		o.opts.Presenter.PresentGate(req.ID, gate)
		defer o.opts.Presenter.DismissGate(req.ID)
	}

	for {
		res, err := gate.Await(ctx)
		if err != nil {
			log.Info("pin capture abandoned", zap.Error(err))
			o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeCancelled)
			if errors.Is(err, pinpad.ErrCancelled) {
				return domain.Credential{}, domain.ErrCaptureCancelled
			}
			return domain.Credential{}, fmt.Errorf("%w: %w", domain.ErrCaptureCancelled, err)
		}

		if res.Biometric {
			return domain.Credential{Biometric: true}, nil
		}
		if o.opts.Authenticator == nil {
			return domain.Credential{PIN: res.Value}, nil
		}

		verifyErr := o.opts.Authenticator.VerifyPIN(ctx, o.opts.Subject, res.Value)
		switch {
		case verifyErr == nil:
			return domain.Credential{PIN: res.Value}, nil
		case errors.Is(verifyErr, domain.ErrPINLocked):
			gate.Lock("Too many incorrect attempts. Try again later.")
			return domain.Credential{}, o.lockedOut(kind, log)
		case errors.Is(verifyErr, domain.ErrInvalidPIN):
			if gate.Reject("Incorrect PIN") {
				return domain.Credential{}, o.lockedOut(kind, log)
			}
			log.Info("incorrect pin entered", zap.Int("attempts", gate.Snapshot().Attempts))
		case errors.Is(verifyErr, domain.ErrPINNotSet):
			log.Info("transaction pin not set")
			gate.Close()
			o.opts.Toasts.Enqueue(toast.KindError, "Create your transaction PIN first", o.opts.ToastTTL)
			o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeInvalid)
			return domain.Credential{}, domain.ErrPINNotSet
		default:
			log.Error("pin verification failed", zap.Error(verifyErr))
			gate.Retry("Unable to verify your PIN")
			o.opts.Toasts.Enqueue(toast.KindError, "Unable to verify your PIN. Please try again.", o.opts.ToastTTL)
		}
	}
}

func (o *Orchestrator) lockedOut(kind string, log *zap.Logger) error {
	log.Warn("pin attempts exhausted")
	o.opts.Toasts.Enqueue(toast.KindError, "Too many incorrect PIN attempts", o.opts.ToastTTL)
	o.opts.Metrics.ObservePipeline(kind, monitor.OutcomeLocked)
	return domain.ErrPINLocked
}

// execute runs the operation on a context that ignores caller cancellation
// and is bounded by OperationTimeout. Once started, a transaction is never
// abandoned half way.
func (o *Orchestrator) execute(ctx context.Context, req domain.TransactionRequest, log *zap.Logger) (*domain.Receipt, *domain.OperationError) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.OperationTimeout)
	defer cancel()

	log.Info("executing transaction", zap.Int64("amount", req.Amount))
	started := o.clock.Now()
	receipt, err := loading.Execute(opCtx, o.opts.Loading, func(ctx context.Context) (*domain.Receipt, error) {
		receipt, err := o.opts.Operation.Execute(ctx, req)
		if err != nil {
			return nil, toOperationError(err)
		}
		return receipt, nil
	}, phaseMessages(req.Kind))
	o.opts.Metrics.ObserveOperation(string(req.Kind), o.clock.Now().Sub(started), err)

	if err != nil {
		opErr := toOperationError(err)
		log.Warn("transaction failed", zap.String("reason", opErr.Message), zap.Int("status_code", opErr.StatusCode), zap.Error(opErr.Err))
		return nil, opErr
	}
	if receipt == nil {
		receipt = &domain.Receipt{TransactionID: req.ID, Status: "completed", Amount: req.Amount, CompletedAt: o.clock.Now()}
	}
	log.Info("transaction succeeded", zap.String("reference", receipt.Reference), zap.String("status", receipt.Status))
	return receipt, nil
}

func toOperationError(err error) *domain.OperationError {
	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.OperationError{
			Message: "The transaction is taking longer than expected. Check your history before retrying.",
			Code:    "timeout",
			Err:     err,
		}
	}
	return domain.AsOperationError(err)
}

func phaseMessages(kind domain.TransactionKind) loading.Messages {
	label := kind.Label()
	return loading.Messages{
		Loading:    "Preparing " + strings.ToLower(label) + "...",
		Processing: "Processing " + strings.ToLower(label) + "...",
		Confirming: "Confirming...",
		Success:    label + " successful",
	}
}

func (o *Orchestrator) reportSuccess(ctx context.Context, req domain.TransactionRequest, receipt *domain.Receipt, log *zap.Logger) {
	message := fmt.Sprintf("%s of %s successful", req.Kind.Label(), domain.FormatAmount(req.Amount))
	o.opts.Toasts.Enqueue(toast.KindSuccess, message, o.opts.ToastTTL)

	params := map[string]string{
		"transaction_id": req.ID.String(),
		"kind":           string(req.Kind),
		"amount":         strconv.FormatInt(req.Amount, 10),
		"recipient":      req.Recipient,
	}
	if receipt.Reference != "" {
		params["reference"] = receipt.Reference
	}
	o.scheduleNavigation(req.Kind.Destination(), params)

	event := domain.NewSucceededEvent(o.opts.Subject, req, receipt, o.clock.Now())
	o.dispatch(ctx, event.EventType, event, log)
}

func (o *Orchestrator) reportFailure(ctx context.Context, req domain.TransactionRequest, opErr *domain.OperationError, log *zap.Logger) {
	o.opts.Toasts.Enqueue(toast.KindError, opErr.Message, o.opts.ToastTTL)

	event := domain.NewFailedEvent(o.opts.Subject, req, opErr.Message, o.clock.Now())
	o.dispatch(ctx, event.EventType, event, log)

	alertCtx := ctx
	if o.opts.AlertTimeout > 0 {
		var cancel context.CancelFunc
		alertCtx, cancel = context.WithTimeout(ctx, o.opts.AlertTimeout)
		defer cancel()
	}
	alert := domain.Alert{
		TransactionID: req.ID,
		Title:         req.Kind.Label() + " failed",
		Message:       opErr.Message,
	}
	if err := o.opts.Alerter.Alert(alertCtx, alert); err != nil {
		log.Info("failure alert closed without acknowledgement", zap.Error(err))
	}
}

// dispatch is best effort: failures are logged and counted, never returned.
func (o *Orchestrator) dispatch(ctx context.Context, eventType string, payload any, log *zap.Logger) {
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.DispatchTimeout)
	defer cancel()

	if err := o.opts.Dispatcher.Dispatch(dispatchCtx, eventType, payload); err != nil {
		dispatchErr := &domain.NotificationDispatchError{EventType: eventType, Err: err}
		log.Warn("notification dispatch failed", zap.Error(dispatchErr))
		o.opts.Metrics.ObserveDispatchFailure(eventType)
	}
}

// scheduleNavigation navigates when the success phase's display window ends,
// measured from the moment the phase was entered. A newer schedule or Close
// supersedes a pending one. The orchestrator stays busy until the navigation
// has run, so a new pipeline never sees it fire.
func (o *Orchestrator) scheduleNavigation(destination string, params map[string]string) {
	delay := o.opts.Loading.SuccessDuration()
	if state := o.opts.Loading.State(); state.Phase == loading.Success {
		delay -= o.clock.Now().Sub(state.EnteredAt)
	}
	if delay < 0 {
		delay = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.navTimer != nil {
		o.navTimer.Stop()
	}
	o.navGen++
	gen := o.navGen
	o.navTimer = o.clock.AfterFunc(delay, func() {
		o.mu.Lock()
		if o.closed || gen != o.navGen {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		o.logger.Debug("navigating after success", zap.String("destination", destination))
		o.opts.Navigator.Navigate(destination, params)

		o.mu.Lock()
		if gen == o.navGen {
			o.navTimer = nil
			o.navGen++
		}
		o.mu.Unlock()
	})
}
