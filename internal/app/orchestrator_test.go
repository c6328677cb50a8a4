package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/payflow/internal/clock/clocktest"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/loading"
	"github.com/transfa/payflow/internal/pinpad"
	"github.com/transfa/payflow/internal/toast"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, eventType string, _ any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, eventType)
	return d.err
}

func (d *recordingDispatcher) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// slowDispatcher spends delay of fake time on every dispatch.
type slowDispatcher struct {
	recordingDispatcher
	clock *clocktest.Fake
	delay time.Duration
}

func (d *slowDispatcher) Dispatch(ctx context.Context, eventType string, payload any) error {
	d.clock.Advance(d.delay)
	return d.recordingDispatcher.Dispatch(ctx, eventType, payload)
}

type navigation struct {
	destination string
	params      map[string]string
}

type recordingNavigator struct {
	mu    sync.Mutex
	calls []navigation
}

func (n *recordingNavigator) Navigate(destination string, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, navigation{destination: destination, params: params})
}

func (n *recordingNavigator) Calls() []navigation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]navigation(nil), n.calls...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, alert domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerter) Alerts() []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert(nil), a.alerts...)
}

// scriptedPresenter enters pins[0] as soon as the gate is shown and the next
// pin after every rejection. An empty script cancels the gate instead.
type scriptedPresenter struct {
	pins      []string
	biometric bool

	mu        sync.Mutex
	presented int
	dismissed int
	gates     []*pinpad.Gate
	shown     []pinpad.Snapshot
	rejected  chan struct{}
}

func (p *scriptedPresenter) PresentGate(_ uuid.UUID, gate *pinpad.Gate) {
	p.mu.Lock()
	p.presented++
	p.gates = append(p.gates, gate)
	p.shown = append(p.shown, gate.Snapshot())
	p.mu.Unlock()

	switch {
	case p.biometric:
		gate.Biometric()
		return
	case len(p.pins) == 0:
		gate.Cancel()
		return
	}

	p.rejected = make(chan struct{}, len(p.pins)+pinpad.DefaultMaxAttempts)
	gate.Subscribe(func(evt pinpad.Event) {
		if evt.Kind == pinpad.EventRejected {
			p.rejected <- struct{}{}
		}
	})
	enterPIN(gate, p.pins[0])
	go func(rest []string) {
		for _, pin := range rest {
			if _, ok := <-p.rejected; !ok {
				return
			}
			enterPIN(gate, pin)
		}
	}(p.pins[1:])
}

func (p *scriptedPresenter) DismissGate(uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed++
}

func (p *scriptedPresenter) counts() (presented, dismissed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented, p.dismissed
}

// presentedGates returns every gate shown and its state when it was shown.
func (p *scriptedPresenter) presentedGates() ([]*pinpad.Gate, []pinpad.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pinpad.Gate(nil), p.gates...), append([]pinpad.Snapshot(nil), p.shown...)
}

func enterPIN(gate *pinpad.Gate, pin string) {
	for i := 0; i < len(pin); i++ {
		gate.Press(pin[i])
	}
}

type stubAuthenticator struct {
	PINAuthenticator
	mu    sync.Mutex
	valid string
	calls int
	err   error
}

func (a *stubAuthenticator) VerifyPIN(_ context.Context, _ string, pin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	if pin != a.valid {
		return domain.ErrInvalidPIN
	}
	return nil
}

// sequenceAuthenticator returns results in order, then ErrInvalidPIN.
type sequenceAuthenticator struct {
	PINAuthenticator
	mu      sync.Mutex
	results []error
	calls   int
}

func (a *sequenceAuthenticator) VerifyPIN(context.Context, string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	if i < len(a.results) {
		return a.results[i]
	}
	return domain.ErrInvalidPIN
}

func (a *sequenceAuthenticator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type harness struct {
	clock      *clocktest.Fake
	loading    *loading.Controller
	toasts     *toast.Queue
	dispatcher *recordingDispatcher
	navigator  *recordingNavigator
	alerter    *recordingAlerter
	presenter  *scriptedPresenter
	phases     []loading.Phase
	phasesMu   sync.Mutex
}

func newHarness(t *testing.T, pins ...string) *harness {
	t.Helper()
	fake := clocktest.NewFake(time.Time{})
	h := &harness{
		clock:      fake,
		loading:    loading.New(loading.Options{Clock: fake}),
		toasts:     toast.New(toast.Options{Clock: fake}),
		dispatcher: &recordingDispatcher{},
		navigator:  &recordingNavigator{},
		alerter:    &recordingAlerter{},
		presenter:  &scriptedPresenter{pins: pins},
	}
	h.loading.Subscribe(func(s loading.State) {
		h.phasesMu.Lock()
		defer h.phasesMu.Unlock()
		h.phases = append(h.phases, s.Phase)
	})
	t.Cleanup(func() {
		h.toasts.Dispose()
		h.loading.Dispose()
	})
	return h
}

func (h *harness) Phases() []loading.Phase {
	h.phasesMu.Lock()
	defer h.phasesMu.Unlock()
	return append([]loading.Phase(nil), h.phases...)
}

func (h *harness) orchestrator(t *testing.T, op Operation, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Loading:    h.loading,
		Toasts:     h.toasts,
		Operation:  op,
		Dispatcher: h.dispatcher,
		Navigator:  h.navigator,
		Alerter:    h.alerter,
		Presenter:  h.presenter,
		Subject:    "user_123",
		Clock:      h.clock,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	o, err := NewOrchestrator(opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func airtimeRequest(amount int64) domain.TransactionRequest {
	return domain.TransactionRequest{
		Kind:      domain.KindAirtime,
		Amount:    amount,
		Recipient: "08031234567",
	}
}

func succeedingOperation(seen *[]domain.TransactionRequest) Operation {
	var mu sync.Mutex
	return OperationFunc(func(_ context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
		mu.Lock()
		defer mu.Unlock()
		if seen != nil {
			*seen = append(*seen, req)
		}
		return &domain.Receipt{TransactionID: req.ID, Reference: "REF-1", Status: "completed", Amount: req.Amount}, nil
	})
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Options{})
	assert.Error(t, err)

	h := newHarness(t)
	_, err = NewOrchestrator(Options{Loading: h.loading, Toasts: h.toasts})
	assert.Error(t, err)
}

func TestRun_ValidationFailureHasNoSideEffects(t *testing.T) {
	h := newHarness(t, "1234")
	o := h.orchestrator(t, succeedingOperation(nil))

	receipt, err := o.Run(context.Background(), airtimeRequest(0))

	assert.Nil(t, receipt)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "amount", validationErr.Field)

	presented, _ := h.presenter.counts()
	assert.Zero(t, presented, "gate must never open")
	assert.Zero(t, h.toasts.Len())
	assert.Empty(t, h.Phases())
	assert.Empty(t, h.dispatcher.Events())

	h.clock.Advance(10 * time.Second)
	assert.Empty(t, h.navigator.Calls())
	assert.False(t, o.Busy())
}

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t, "1234")
	var seen []domain.TransactionRequest
	o := h.orchestrator(t, succeedingOperation(&seen))

	receipt, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "REF-1", receipt.Reference)

	assert.Equal(t, []loading.Phase{loading.Loading, loading.Processing, loading.Confirming, loading.Success}, h.Phases())

	require.Len(t, seen, 1)
	assert.Equal(t, "1234", seen[0].Credential.PIN)
	assert.NotEqual(t, uuid.Nil, seen[0].ID)

	entries := h.toasts.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, toast.KindSuccess, entries[0].Kind)
	assert.Equal(t, "Airtime purchase of ₦5.00 successful", entries[0].Message)

	assert.Equal(t, []string{domain.EventTransactionSucceeded}, h.dispatcher.Events())
	assert.Empty(t, h.alerter.Alerts())

	presented, dismissed := h.presenter.counts()
	assert.Equal(t, 1, presented)
	assert.Equal(t, 1, dismissed)

	h.clock.Advance(h.loading.SuccessDuration() - time.Millisecond)
	assert.Empty(t, h.navigator.Calls(), "navigation waits for the success phase")

	h.clock.Advance(time.Millisecond)
	calls := h.navigator.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "topup-receipt", calls[0].destination)
	assert.Equal(t, seen[0].ID.String(), calls[0].params["transaction_id"])
	assert.Equal(t, "REF-1", calls[0].params["reference"])
	assert.Equal(t, loading.Idle, h.loading.State().Phase)

	h.clock.Advance(time.Minute)
	assert.Len(t, h.navigator.Calls(), 1)
}

func TestRun_OperationFailure(t *testing.T) {
	h := newHarness(t, "1234")
	op := OperationFunc(func(context.Context, domain.TransactionRequest) (*domain.Receipt, error) {
		return nil, &domain.OperationError{Message: "Insufficient funds", StatusCode: 400}
	})
	o := h.orchestrator(t, op)

	receipt, err := o.Run(context.Background(), airtimeRequest(500))

	assert.Nil(t, receipt)
	var opErr *domain.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "Insufficient funds", opErr.Message)

	assert.Equal(t, []loading.Phase{loading.Loading, loading.Processing, loading.Error, loading.Idle}, h.Phases())

	entries := h.toasts.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, toast.KindError, entries[0].Kind)
	assert.Equal(t, "Insufficient funds", entries[0].Message)

	assert.Equal(t, []string{domain.EventTransactionFailed}, h.dispatcher.Events())
	alerts := h.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Airtime purchase failed", alerts[0].Title)
	assert.Equal(t, "Insufficient funds", alerts[0].Message)

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.navigator.Calls())
	assert.False(t, o.Busy(), "a retry must be possible right away")
}

func TestRun_WrapsPlainOperationErrors(t *testing.T) {
	h := newHarness(t, "1234")
	cause := errors.New("connection refused")
	op := OperationFunc(func(context.Context, domain.TransactionRequest) (*domain.Receipt, error) {
		return nil, cause
	})
	o := h.orchestrator(t, op)

	_, err := o.Run(context.Background(), airtimeRequest(500))

	var opErr *domain.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "connection refused", opErr.Message)
	assert.ErrorIs(t, err, cause)
}

func TestRun_EveryAttemptGetsANewID(t *testing.T) {
	h := newHarness(t, "1234")
	var ids []uuid.UUID
	op := OperationFunc(func(_ context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
		ids = append(ids, req.ID)
		return nil, &domain.OperationError{Message: "Service unavailable"}
	})
	o := h.orchestrator(t, op)

	req := airtimeRequest(500)
	req.ID = uuid.New()
	_, err := o.Run(context.Background(), req)
	require.Error(t, err)
	_, err = o.Run(context.Background(), req)
	require.Error(t, err)

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, req.ID, ids[0])
}

func TestRun_FailureClosesGateAndRetryStartsClean(t *testing.T) {
	h := newHarness(t, "0000", "1234")
	auth := &stubAuthenticator{valid: "1234"}
	op := OperationFunc(func(context.Context, domain.TransactionRequest) (*domain.Receipt, error) {
		return nil, &domain.OperationError{Message: "Insufficient funds"}
	})
	o := h.orchestrator(t, op, func(opts *Options) {
		opts.Authenticator = auth
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.Error(t, err)
	assert.Equal(t, loading.Idle, h.loading.State().Phase)
	_, err = o.Run(context.Background(), airtimeRequest(500))
	require.Error(t, err)

	gates, shown := h.presenter.presentedGates()
	require.Len(t, gates, 2)
	assert.NotSame(t, gates[0], gates[1])

	first := gates[0].Snapshot()
	assert.Equal(t, pinpad.Closed, first.Status)
	assert.Zero(t, first.Entered)

	assert.Equal(t, pinpad.Collecting, shown[1].Status)
	assert.Zero(t, shown[1].Attempts)
	assert.Zero(t, shown[1].Entered)
	assert.Empty(t, shown[1].ErrorMessage)
}

func TestRun_CaptureCancelledHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	called := false
	op := OperationFunc(func(context.Context, domain.TransactionRequest) (*domain.Receipt, error) {
		called = true
		return nil, nil
	})
	o := h.orchestrator(t, op)

	_, err := o.Run(context.Background(), airtimeRequest(500))

	assert.ErrorIs(t, err, domain.ErrCaptureCancelled)
	assert.False(t, called)
	assert.Empty(t, h.Phases())
	assert.Zero(t, h.toasts.Len())
	assert.Empty(t, h.dispatcher.Events())
	_, dismissed := h.presenter.counts()
	assert.Equal(t, 1, dismissed)
}

func TestRun_ContextDoneWhileCapturing(t *testing.T) {
	h := newHarness(t, "12")
	o := h.orchestrator(t, succeedingOperation(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, airtimeRequest(500))

	assert.ErrorIs(t, err, domain.ErrCaptureCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.Phases())
}

func TestRun_BiometricCredential(t *testing.T) {
	h := newHarness(t)
	h.presenter.biometric = true
	var seen []domain.TransactionRequest
	o := h.orchestrator(t, succeedingOperation(&seen), func(opts *Options) {
		opts.Gate.AllowBiometric = true
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Credential.Biometric)
	assert.Empty(t, seen[0].Credential.PIN)
}

func TestRun_WrongPINIsRejectedThenAccepted(t *testing.T) {
	h := newHarness(t, "0000", "1111", "1234")
	auth := &stubAuthenticator{valid: "1234"}
	var seen []domain.TransactionRequest
	o := h.orchestrator(t, succeedingOperation(&seen), func(opts *Options) {
		opts.Authenticator = auth
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)
	assert.Equal(t, 3, auth.calls)
	require.Len(t, seen, 1)
	assert.Equal(t, "1234", seen[0].Credential.PIN)
}

func TestRun_UndecidedVerificationKeepsAttemptCount(t *testing.T) {
	h := newHarness(t, "0000", "1111", "2222", "3333")
	unavailable := errors.New("redis: connection refused")
	auth := &sequenceAuthenticator{results: []error{domain.ErrInvalidPIN, unavailable, unavailable, domain.ErrInvalidPIN}}
	o := h.orchestrator(t, succeedingOperation(nil), func(opts *Options) {
		opts.Authenticator = auth
		opts.Gate.MaxAttempts = 2
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := o.Run(ctx, airtimeRequest(500))

	assert.ErrorIs(t, err, domain.ErrPINLocked)
	assert.Equal(t, 4, auth.Calls())
	assert.Empty(t, h.Phases())
	messages := make([]string, 0, h.toasts.Len())
	for _, entry := range h.toasts.Entries() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"Unable to verify your PIN. Please try again.", "Too many incorrect PIN attempts"}, messages)
}

func TestRun_PINLockout(t *testing.T) {
	h := newHarness(t, "0000", "1111", "2222")
	auth := &stubAuthenticator{valid: "1234"}
	called := false
	op := OperationFunc(func(context.Context, domain.TransactionRequest) (*domain.Receipt, error) {
		called = true
		return nil, nil
	})
	o := h.orchestrator(t, op, func(opts *Options) {
		opts.Authenticator = auth
		opts.Gate.MaxAttempts = 3
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))

	assert.ErrorIs(t, err, domain.ErrPINLocked)
	assert.False(t, called)
	entries := h.toasts.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Too many incorrect PIN attempts", entries[0].Message)
}

func TestRun_AuthenticatorLockout(t *testing.T) {
	h := newHarness(t, "1234")
	auth := &stubAuthenticator{err: domain.ErrPINLocked}
	o := h.orchestrator(t, succeedingOperation(nil), func(opts *Options) {
		opts.Authenticator = auth
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	assert.ErrorIs(t, err, domain.ErrPINLocked)
	assert.Empty(t, h.Phases())
}

func TestRun_PINNotSetEndsCapture(t *testing.T) {
	h := newHarness(t, "1234")
	auth := &stubAuthenticator{err: domain.ErrPINNotSet}
	o := h.orchestrator(t, succeedingOperation(nil), func(opts *Options) {
		opts.Authenticator = auth
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	assert.ErrorIs(t, err, domain.ErrPINNotSet)
	assert.Equal(t, 1, auth.calls)
	assert.Empty(t, h.Phases())
	entries := h.toasts.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Create your transaction PIN first", entries[0].Message)
}

func TestRun_DispatchFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, "1234")
	h.dispatcher.err = errors.New("broker down")
	o := h.orchestrator(t, succeedingOperation(nil))

	receipt, err := o.Run(context.Background(), airtimeRequest(500))

	require.NoError(t, err)
	assert.NotNil(t, receipt)
	assert.Equal(t, []string{domain.EventTransactionSucceeded}, h.dispatcher.Events())
	h.clock.Advance(h.loading.SuccessDuration())
	assert.Len(t, h.navigator.Calls(), 1)
}

func TestRun_BusyWhileRunning(t *testing.T) {
	h := newHarness(t, "1234")
	release := make(chan struct{})
	started := make(chan struct{})
	op := OperationFunc(func(_ context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
		close(started)
		<-release
		return &domain.Receipt{TransactionID: req.ID, Status: "completed"}, nil
	})
	o := h.orchestrator(t, op)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), airtimeRequest(500))
		done <- err
	}()
	<-started

	assert.True(t, o.Busy())
	_, err := o.Run(context.Background(), airtimeRequest(700))
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(release)
	require.NoError(t, <-done)

	// The success phase is still on screen.
	_, err = o.Run(context.Background(), airtimeRequest(700))
	assert.ErrorIs(t, err, domain.ErrBusy)

	h.clock.Advance(h.loading.SuccessDuration())
	assert.False(t, o.Busy())
}

func TestRun_NavigationEndsWithSuccessPhaseDespiteSlowDispatch(t *testing.T) {
	h := newHarness(t, "1234")
	dispatcher := &slowDispatcher{clock: h.clock, delay: time.Second}
	o := h.orchestrator(t, succeedingOperation(nil), func(opts *Options) {
		opts.Dispatcher = dispatcher
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventTransactionSucceeded}, dispatcher.Events())

	h.clock.Advance(h.loading.SuccessDuration() - time.Second - time.Millisecond)
	assert.Equal(t, loading.Success, h.loading.State().Phase)
	assert.Empty(t, h.navigator.Calls())
	_, err = o.Run(context.Background(), airtimeRequest(500))
	assert.ErrorIs(t, err, domain.ErrBusy)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, loading.Idle, h.loading.State().Phase)
	assert.Len(t, h.navigator.Calls(), 1)
	assert.False(t, o.Busy())
}

func TestRun_PendingNavigationKeepsOrchestratorBusy(t *testing.T) {
	h := newHarness(t, "1234")
	o := h.orchestrator(t, succeedingOperation(nil))

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)

	h.loading.Stop()
	assert.False(t, h.loading.Busy())
	assert.True(t, o.Busy())
	_, err = o.Run(context.Background(), airtimeRequest(500))
	assert.ErrorIs(t, err, domain.ErrBusy)

	h.clock.Advance(h.loading.SuccessDuration())
	assert.Len(t, h.navigator.Calls(), 1)
	assert.False(t, o.Busy())
}

func TestRun_OperationIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, "1234")
	release := make(chan struct{})
	started := make(chan struct{})
	var opCtxErr error
	op := OperationFunc(func(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
		close(started)
		<-release
		opCtxErr = ctx.Err()
		return &domain.Receipt{TransactionID: req.ID, Status: "completed"}, nil
	})
	o := h.orchestrator(t, op)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, airtimeRequest(500))
		done <- err
	}()
	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	assert.NoError(t, opCtxErr)
}

func TestRun_OperationTimeout(t *testing.T) {
	h := newHarness(t, "1234")
	op := OperationFunc(func(ctx context.Context, _ domain.TransactionRequest) (*domain.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := h.orchestrator(t, op, func(opts *Options) {
		opts.OperationTimeout = 10 * time.Millisecond
	})

	_, err := o.Run(context.Background(), airtimeRequest(500))

	var opErr *domain.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "timeout", opErr.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_CancelsPendingNavigation(t *testing.T) {
	h := newHarness(t, "1234")
	o := h.orchestrator(t, succeedingOperation(nil))

	_, err := o.Run(context.Background(), airtimeRequest(500))
	require.NoError(t, err)
	o.Close()

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.navigator.Calls())
	assert.Zero(t, h.clock.Pending())

	_, err = o.Run(context.Background(), airtimeRequest(500))
	assert.ErrorIs(t, err, domain.ErrBusy)
}
