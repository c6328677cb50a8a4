/**
 * @description
 * A Workspace is the server-side app session of one user: one loading
 * controller, one toast queue and one orchestrator, plus the screen state a
 * thin client polls (visible PIN pad, blocking alert, last navigation).
 *
 * The workspace is the GatePresenter, Alerter and Navigator of its own
 * orchestrator, so keypad and alert requests from the client reach the
 * pipeline running in the background.
 */

package app

import (
	"context"
	"errors"
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

var (
	ErrNoActiveGate  = errors.New("no pin pad is open")
	ErrNoActiveAlert = errors.New("no alert is waiting for acknowledgement")
	ErrUnknownKey    = errors.New("unknown key")
	ErrWorkspaceGone = errors.New("workspace closed")
	ErrNoPINStore    = errors.New("pin setup is not available")
	ErrResendTooSoon = errors.New("a new code cannot be requested yet")
)

// DefaultResendCooldown is the wait between setup code requests.
const DefaultResendCooldown = 30 * time.Second

// Keypad keys besides the digits.
const (
	KeyDelete    = "delete"
	KeyBiometric = "biometric"
	KeyCancel    = "cancel"
	// KeyResend asks for a new setup code. Only the PIN create flow accepts it.
	KeyResend = "resend"
)

// PINStore is the part of the authenticator the create+confirm flow writes to.
type PINStore interface {
	SetPIN(subject, pin string) error
	HasPIN(subject string) bool
}

// WorkspaceConfig holds everything a workspace needs besides its subject.
type WorkspaceConfig struct {
	Operation     Operation
	Dispatcher    Dispatcher
	Authenticator PINAuthenticator
	PINStore      PINStore

	Limits             Limits
	PINLength          int
	MaxAttempts        int
	AllowBiometric     bool
	MismatchResetDelay time.Duration
	ResendCooldown     time.Duration

	SuccessDuration  time.Duration
	ErrorDuration    time.Duration
	ToastTTL         time.Duration
	OperationTimeout time.Duration
	AlertTimeout     time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *monitor.Metrics
}

// Navigation records the last Navigate call.
type Navigation struct {
	Destination string            `json:"destination"`
	Params      map[string]string `json:"params"`
	At          time.Time         `json:"at"`
}

// ToastView is the client-facing form of a toast entry.
type ToastView struct {
	ID        string     `json:"id"`
	Kind      toast.Kind `json:"kind"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	TTLMillis int64      `json:"ttl_ms"`
}

// WorkspaceState is what GET /checkout/state returns.
type WorkspaceState struct {
	Phase         loading.Phase    `json:"phase"`
	Message       string           `json:"message"`
	Busy          bool             `json:"busy"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty"`
	PinPad        *pinpad.Snapshot `json:"pin_pad,omitempty"`
	PINSetup      *pinpad.Snapshot `json:"pin_setup,omitempty"`
	HasPIN        bool             `json:"has_pin"`
	Toasts        []ToastView      `json:"toasts"`
	Alert         *domain.Alert    `json:"alert,omitempty"`
	LastReceipt   *domain.Receipt  `json:"last_receipt,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Navigation    *Navigation      `json:"navigation,omitempty"`
}

type pendingAlert struct {
	alert domain.Alert
	ack   chan struct{}
}

// Workspace is safe for concurrent use.
type Workspace struct {
	Subject string

	loading      *loading.Controller
	toasts       *toast.Queue
	orchestrator *Orchestrator
	pinStore     PINStore
	cfg          WorkspaceConfig
	clock        clock.Clock
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	closed      bool
	pendingID   uuid.UUID
	gate        *pinpad.Gate
	gateTx      uuid.UUID
	alert       *pendingAlert
	setupGate   *pinpad.Gate
	navigation  *Navigation
	lastReceipt *domain.Receipt
	lastError   string
	lastActive  time.Time

	stopWatching []func()
}

// NewWorkspace builds the session objects for subject.
func NewWorkspace(subject string, cfg WorkspaceConfig) (*Workspace, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = DefaultResendCooldown
	}
	logger := cfg.Logger.With(zap.String("subject", subject))

	w := &Workspace{
		Subject:    subject,
		pinStore:   cfg.PINStore,
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     logger.With(zap.String("component", "workspace")),
		lastActive: cfg.Clock.Now(),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.loading = loading.New(loading.Options{
		SuccessDuration: cfg.SuccessDuration,
		ErrorDuration:   cfg.ErrorDuration,
		Clock:           cfg.Clock,
		Logger:          logger,
	})
	w.toasts = toast.New(toast.Options{Clock: cfg.Clock, Logger: logger})
	w.stopWatching = append(w.stopWatching, cfg.Metrics.WatchLoading(w.loading), cfg.Metrics.WatchToasts(w.toasts))

	orchestrator, err := NewOrchestrator(Options{
		Loading:       w.loading,
		Toasts:        w.toasts,
		Operation:     cfg.Operation,
		Dispatcher:    cfg.Dispatcher,
		Navigator:     w,
		Alerter:       w,
		Presenter:     w,
		Authenticator: cfg.Authenticator,
		Limits:        cfg.Limits,
		Gate: pinpad.Config{
			Length:             cfg.PINLength,
			MaxAttempts:        cfg.MaxAttempts,
			AllowBiometric:     cfg.AllowBiometric,
			MismatchResetDelay: cfg.MismatchResetDelay,
		},
		OperationTimeout: cfg.OperationTimeout,
		AlertTimeout:     cfg.AlertTimeout,
		ToastTTL:         cfg.ToastTTL,
		Subject:          subject,
		Clock:            cfg.Clock,
		Logger:           logger,
		Metrics:          cfg.Metrics,
		NewID:            w.nextID,
	})
	if err != nil {
		w.dispose()
		return nil, err
	}
	w.orchestrator = orchestrator
	return w, nil
}

// Start validates req and runs the pipeline in the background. It returns the
// transaction id the pipeline will use.
func (w *Workspace) Start(req domain.TransactionRequest) (uuid.UUID, error) {
	if err := Validate(req, w.cfg.Limits); err != nil {
		return uuid.Nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.clock.Now()
	if w.closed {
		return uuid.Nil, ErrWorkspaceGone
	}
	if w.running || w.orchestrator.Busy() {
		return uuid.Nil, domain.ErrBusy
	}

	id := uuid.New()
	w.running = true
	w.pendingID = id
	w.lastError = ""
	w.wg.Add(1)
	go w.run(req)
	return id, nil
}

func (w *Workspace) run(req domain.TransactionRequest) {
	defer w.wg.Done()
	receipt, err := w.orchestrator.Run(w.ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.lastActive = w.clock.Now()
	switch {
	case err == nil:
		w.lastReceipt = receipt
	case errors.Is(err, domain.ErrCaptureCancelled):
		w.logger.Debug("transaction abandoned at pin pad")
	default:
		w.lastError = err.Error()
	}
}

func (w *Workspace) nextID() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.pendingID
	w.pendingID = uuid.Nil
	if id == uuid.Nil {
		id = uuid.New()
	}
	return id
}

// PresentGate implements GatePresenter.
func (w *Workspace) PresentGate(txID uuid.UUID, gate *pinpad.Gate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gate = gate
	w.gateTx = txID
}

// DismissGate implements GatePresenter.
func (w *Workspace) DismissGate(txID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gateTx == txID {
		w.gate = nil
		w.gateTx = uuid.Nil
	}
}

// Alert implements Alerter. It blocks until AckAlert, ctx is done or the
// workspace closes.
func (w *Workspace) Alert(ctx context.Context, alert domain.Alert) error {
	pending := &pendingAlert{alert: alert, ack: make(chan struct{})}
	w.mu.Lock()
	w.alert = pending
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.alert == pending {
			w.alert = nil
		}
		w.mu.Unlock()
	}()

	select {
	case <-pending.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWorkspaceGone
	}
}

// Navigate implements Navigator.
func (w *Workspace) Navigate(destination string, params map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.navigation = &Navigation{Destination: destination, Params: params, At: w.clock.Now()}
}

// Key forwards one keypad press to the open PIN pad.
func (w *Workspace) Key(key string) error {
	w.mu.Lock()
	gate := w.gate
	w.lastActive = w.clock.Now()
	w.mu.Unlock()
	if gate == nil {
		return ErrNoActiveGate
	}
	return pressKey(gate, key)
}

func pressKey(gate *pinpad.Gate, key string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	switch {
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		gate.Press(key[0])
	case key == KeyDelete:
		gate.Delete()
	case key == KeyBiometric:
		gate.Biometric()
	case key == KeyCancel:
		gate.Cancel()
	default:
		return ErrUnknownKey
	}
	return nil
}

// AckAlert acknowledges the blocking alert.
func (w *Workspace) AckAlert() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.clock.Now()
	if w.alert == nil {
		return ErrNoActiveAlert
	}
	close(w.alert.ack)
	w.alert = nil
	return nil
}

// DismissToast removes a toast before its TTL.
func (w *Workspace) DismissToast(id string) bool {
	w.touch()
	return w.toasts.Dismiss(id)
}

// SetupKey drives the create+confirm flow that sets the local PIN. Opening
// the flow requests a setup code and starts the resend cooldown; KeyResend
// requests another once the cooldown has run out. On a matching confirm the
// PIN is stored and the flow closes; done reports that.
func (w *Workspace) SetupKey(key string) (snapshot pinpad.Snapshot, done bool, err error) {
	if w.pinStore == nil {
		return pinpad.Snapshot{}, false, ErrNoPINStore
	}

	snapshot, done, codeRequested, err := w.setupKey(key)
	if codeRequested {
		w.requestSetupCode()
	}
	return snapshot, done, err
}

func (w *Workspace) setupKey(key string) (snapshot pinpad.Snapshot, done, codeRequested bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.clock.Now()
	if w.closed {
		return pinpad.Snapshot{}, false, false, ErrWorkspaceGone
	}
	if w.setupGate == nil {
		w.setupGate = pinpad.New(pinpad.Config{
			Length:             w.cfg.PINLength,
			Variant:            pinpad.CreateConfirm,
			MismatchResetDelay: w.cfg.MismatchResetDelay,
			Clock:              w.clock,
		})
		w.setupGate.StartResendCountdown(w.cfg.ResendCooldown)
		codeRequested = true
	}
	gate := w.setupGate

	if strings.EqualFold(strings.TrimSpace(key), KeyResend) {
		if !gate.CanResend() {
			return gate.Snapshot(), false, codeRequested, ErrResendTooSoon
		}
		gate.StartResendCountdown(w.cfg.ResendCooldown)
		return gate.Snapshot(), false, true, nil
	}

	if err := pressKey(gate, key); err != nil {
		return gate.Snapshot(), false, codeRequested, err
	}
	snapshot = gate.Snapshot()

	if res, ok := gate.TryResult(); ok {
		if err := w.pinStore.SetPIN(w.Subject, res.Value); err != nil {
			gate.Reset()
			return gate.Snapshot(), false, codeRequested, err
		}
		gate.Close()
		w.setupGate = nil
		w.toasts.Success("Transaction PIN set")
		w.logger.Info("transaction pin set")
		return snapshot, true, codeRequested, nil
	}
	if snapshot.Status == pinpad.Closed {
		w.setupGate = nil
	}
	return snapshot, false, codeRequested, nil
}

// requestSetupCode is best effort, like every dispatch.
func (w *Workspace) requestSetupCode() {
	if w.cfg.Dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDispatchTimeout)
	defer cancel()

	event := domain.NewPINSetupCodeEvent(w.Subject, w.clock.Now())
	if err := w.cfg.Dispatcher.Dispatch(ctx, event.EventType, event); err != nil {
		w.logger.Warn("setup code request failed", zap.Error(&domain.NotificationDispatchError{EventType: event.EventType, Err: err}))
		w.cfg.Metrics.ObserveDispatchFailure(event.EventType)
		return
	}
	w.logger.Debug("setup code requested")
}

// State returns the current screen state.
func (w *Workspace) State() WorkspaceState {
	phase := w.loading.State()
	entries := w.toasts.Entries()

	w.mu.Lock()
	defer w.mu.Unlock()
	state := WorkspaceState{
		Phase:       phase.Phase,
		Message:     phase.Message,
		Busy:        w.running || w.orchestrator.Busy(),
		Toasts:      make([]ToastView, 0, len(entries)),
		LastReceipt: w.lastReceipt,
		LastError:   w.lastError,
		Navigation:  w.navigation,
	}
	for _, entry := range entries {
		state.Toasts = append(state.Toasts, ToastView{
			ID:        entry.ID,
			Kind:      entry.Kind,
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt,
			TTLMillis: entry.TTL.Milliseconds(),
		})
	}
	if w.gate != nil {
		snap := w.gate.Snapshot()
		tx := w.gateTx
		state.PinPad = &snap
		state.TransactionID = &tx
	}
	if w.setupGate != nil {
		snap := w.setupGate.Snapshot()
		state.PINSetup = &snap
	}
	if w.alert != nil {
		alert := w.alert.alert
		state.Alert = &alert
	}
	if w.pinStore != nil {
		state.HasPIN = w.pinStore.HasPIN(w.Subject)
	}
	return state
}

// Idle reports whether the workspace has no running pipeline, shows no phase,
// has no pending navigation and has seen no request for at least maxIdle.
func (w *Workspace) Idle(now time.Time, maxIdle time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.running && !w.orchestrator.Busy() && w.alert == nil && now.Sub(w.lastActive) >= maxIdle
}

func (w *Workspace) touch() {
	w.mu.Lock()
	w.lastActive = w.clock.Now()
	w.mu.Unlock()
}

// Close stops the session: an open PIN pad is cancelled, a waiting alert is
// released and every owned timer is cancelled. It waits for the background
// pipeline to return.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	gate := w.gate
	setup := w.setupGate
	w.setupGate = nil
	w.mu.Unlock()

	w.cancel()
	if gate != nil {
		gate.Cancel()
	}
	if setup != nil {
		setup.Close()
	}
	w.wg.Wait()
	w.orchestrator.Close()
	w.dispose()
}

func (w *Workspace) dispose() {
	w.cancel()
	for _, stop := range w.stopWatching {
		stop()
	}
	w.loading.Dispose()
	w.toasts.Dispose()
}
