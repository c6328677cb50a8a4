/**
 * @description
 * This package implements the PIN capture gate that sits in front of every
 * money-movement action. It buffers a fixed-length numeric secret, or accepts a
 * biometric shortcut, and emits a typed completion event exactly once on the
 * transition into the complete state.
 *
 * Key features:
 * - Verify variant: one buffer; correctness is decided by the caller.
 * - Create+Confirm variant: two buffers compared on confirm; a mismatch shakes,
 *   then resets both buffers after a fixed delay.
 * - Attempt counting and lockout, driven by the caller through Reject and Lock.
 * - Resend-code countdown for the create flow.
 *
 * @dependencies
 * - internal/clock: owned, cancellable timers.
 */

package pinpad

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/transfa/payflow/internal/clock"
)

const (
	DefaultLength             = 4
	DefaultMaxAttempts        = 5
	DefaultMismatchResetDelay = 2000 * time.Millisecond

	// BiometricSentinel is the completion value reported for a biometric unlock.
	BiometricSentinel = "__biometric__"
)

var (
	ErrCancelled = errors.New("pin capture cancelled")
	ErrLocked    = errors.New("pin capture locked")
)

// Variant selects the capture flow.
type Variant int

const (
	Verify Variant = iota
	CreateConfirm
)

// Stage identifies the active buffer of a CreateConfirm gate.
type Stage int

const (
	StageCreate Stage = iota
	StageConfirm
)

func (s Stage) String() string {
	if s == StageConfirm {
		return "confirm"
	}
	return "create"
}

// Status is the automaton state.
type Status int

const (
	Collecting Status = iota
	Complete
	Failed
	Locked
	Closed
)

func (s Status) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	case Failed:
		return "error"
	case Locked:
		return "locked"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind classifies gate events.
type EventKind int

const (
	EventChanged EventKind = iota
	EventComplete
	EventMismatch
	EventRejected
	EventLocked
	EventCancelled
)

// Event is delivered to subscribers. Value is only set on EventComplete.
type Event struct {
	Kind      EventKind
	Value     string
	Biometric bool
	Message   string
}

// Result is what Await returns when the gate completes.
type Result struct {
	Value     string
	Biometric bool
}

// Config configures a gate. Zero values select the defaults.
type Config struct {
	Length             int
	Variant            Variant
	MaxAttempts        int
	AllowBiometric     bool
	MismatchResetDelay time.Duration
	Clock              clock.Clock
}

// Snapshot is a render-safe view of the gate. It never exposes digits.
type Snapshot struct {
	Variant         Variant       `json:"-"`
	Stage           string        `json:"stage,omitempty"`
	Status          Status        `json:"status"`
	Entered         int           `json:"entered"`
	Length          int           `json:"length"`
	Attempts        int           `json:"attempts"`
	MaxAttempts     int           `json:"max_attempts"`
	Locked          bool          `json:"locked"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	AllowBiometric  bool          `json:"allow_biometric"`
	Submitting      bool          `json:"submitting"`
	ResendRemaining time.Duration `json:"resend_remaining_ns,omitempty"`
}

// Gate is safe for concurrent use. Listeners run with the gate locked and must
// not call back into it.
type Gate struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	buffer   []byte
	confirm  []byte
	original string
	stage    Stage

	status     Status
	errMsg     string
	attempts   int
	submitting bool

	mismatchTimer clock.Timer
	timerGen      uint64

	resend resendCountdown

	completions chan Result
	cancelled   chan struct{}

	listeners    map[int]func(Event)
	nextListener int
}

// New creates a gate ready to collect digits.
func New(cfg Config) *Gate {
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MismatchResetDelay <= 0 {
		cfg.MismatchResetDelay = DefaultMismatchResetDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Gate{
		cfg:         cfg,
		clock:       cfg.Clock,
		buffer:      make([]byte, 0, cfg.Length),
		confirm:     make([]byte, 0, cfg.Length),
		completions: make(chan Result, 1),
		cancelled:   make(chan struct{}),
		listeners:   make(map[int]func(Event)),
	}
}

// Press appends one digit to the active buffer. It reports whether the digit
// was accepted.
func (g *Gate) Press(digit byte) bool {
	if digit < '0' || digit > '9' {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.acceptingLocked() {
		return false
	}

	buf := g.activeBufferLocked()
	if len(*buf) >= g.cfg.Length {
		return false
	}
	if g.status == Failed {
		g.status = Collecting
		g.errMsg = ""
	}
	*buf = append(*buf, digit)
	g.emitLocked(Event{Kind: EventChanged})

	if len(*buf) == g.cfg.Length {
		g.onBufferFullLocked()
	}
	return true
}

// Delete removes the last digit of the active buffer and clears an active error.
func (g *Gate) Delete() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.acceptingLocked() {
		return false
	}

	buf := g.activeBufferLocked()
	changed := false
	if len(*buf) > 0 {
		*buf = (*buf)[:len(*buf)-1]
		changed = true
	}
	if g.status == Failed {
		g.status = Collecting
		g.errMsg = ""
		changed = true
	}
	if changed {
		g.emitLocked(Event{Kind: EventChanged})
	}
	return changed
}

// Biometric completes the gate without digits when the shortcut is allowed.
func (g *Gate) Biometric() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cfg.AllowBiometric || !g.acceptingLocked() {
		return false
	}
	g.completeLocked(Result{Value: BiometricSentinel, Biometric: true})
	return true
}

// Reject records a failed verification of the last completed value, clears the
// buffer and re-opens collection. It reports whether the gate is now locked.
func (g *Gate) Reject(message string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Closed || g.status == Locked {
		return g.status == Locked
	}

	g.attempts++
	g.clearBuffersLocked()
	g.submitting = false
	g.drainLocked()

	if g.attempts >= g.cfg.MaxAttempts {
		g.lockLocked("Too many incorrect attempts")
		return true
	}

	if message == "" {
		message = "Incorrect PIN"
	}
	g.status = Failed
	g.errMsg = message
	g.emitLocked(Event{Kind: EventRejected, Message: message})
	return false
}

// Retry clears the buffer and re-opens collection after a verification that
// could not be decided either way. Unlike Reject it does not count an attempt,
// and unlike Reset it keeps the attempts already counted.
func (g *Gate) Retry(message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Closed || g.status == Locked {
		return
	}

	g.clearBuffersLocked()
	g.submitting = false
	g.drainLocked()

	if message == "" {
		message = "Please try again"
	}
	g.status = Failed
	g.errMsg = message
	g.emitLocked(Event{Kind: EventRejected, Message: message})
}

// Lock locks the gate regardless of the local attempt count, for lockouts
// imposed by an external authenticator.
func (g *Gate) Lock(message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Closed || g.status == Locked {
		return
	}
	g.clearBuffersLocked()
	g.submitting = false
	g.drainLocked()
	if message == "" {
		message = "Too many incorrect attempts"
	}
	g.lockLocked(message)
}

// Reset clears both buffers, the error, the lock and the attempt counter, and
// cancels every pending timer.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Closed {
		return
	}
	g.cancelTimersLocked()
	g.clearBuffersLocked()
	g.original = ""
	g.stage = StageCreate
	g.status = Collecting
	g.errMsg = ""
	g.attempts = 0
	g.submitting = false
	g.drainLocked()
	g.emitLocked(Event{Kind: EventChanged})
}

// Cancel abandons the capture. Pending and future Await calls return ErrCancelled.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeLocked() {
		g.emitLocked(Event{Kind: EventCancelled})
	}
}

// Close disposes the gate: timers are cancelled and Await returns ErrCancelled.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeLocked()
	g.listeners = make(map[int]func(Event))
}

// Await blocks until the gate completes, is cancelled, or ctx is done.
func (g *Gate) Await(ctx context.Context) (Result, error) {
	select {
	case res := <-g.completions:
		return res, nil
	case <-g.cancelled:
		return Result{}, ErrCancelled
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryResult takes the completion value if one is waiting, without blocking.
func (g *Gate) TryResult() (Result, bool) {
	select {
	case res := <-g.completions:
		return res, true
	default:
		return Result{}, false
	}
}

// Subscribe registers fn for gate events. The returned func removes it.
func (g *Gate) Subscribe(fn func(Event)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextListener
	g.nextListener++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// Snapshot returns the render-safe state of the gate.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	var stage string
	if g.cfg.Variant == CreateConfirm {
		stage = g.stage.String()
	}
	return Snapshot{
		Variant:         g.cfg.Variant,
		Stage:           stage,
		Status:          g.status,
		Entered:         len(*g.activeBufferLocked()),
		Length:          g.cfg.Length,
		Attempts:        g.attempts,
		MaxAttempts:     g.cfg.MaxAttempts,
		Locked:          g.status == Locked,
		ErrorMessage:    g.errMsg,
		AllowBiometric:  g.cfg.AllowBiometric,
		Submitting:      g.submitting,
		ResendRemaining: g.resend.remaining,
	}
}

func (g *Gate) acceptingLocked() bool {
	return !g.submitting && g.status != Locked && g.status != Closed && g.status != Complete
}

func (g *Gate) activeBufferLocked() *[]byte {
	if g.cfg.Variant == CreateConfirm && g.stage == StageConfirm {
		return &g.confirm
	}
	return &g.buffer
}

func (g *Gate) onBufferFullLocked() {
	if g.cfg.Variant == Verify {
		g.completeLocked(Result{Value: string(g.buffer)})
		return
	}

	if g.stage == StageCreate {
		g.original = string(g.buffer)
		g.stage = StageConfirm
		g.emitLocked(Event{Kind: EventChanged})
		return
	}

	if string(g.confirm) == g.original {
		g.completeLocked(Result{Value: g.original})
		return
	}
	g.mismatchLocked()
}

// completeLocked is the only transition into Complete; the submitting flag
// keeps it from firing twice before a Reject or Reset.
func (g *Gate) completeLocked(res Result) {
	g.submitting = true
	g.status = Complete
	g.errMsg = ""
	select {
	case g.completions <- res:
	default:
	}
	g.emitLocked(Event{Kind: EventComplete, Value: res.Value, Biometric: res.Biometric})
}

func (g *Gate) mismatchLocked() {
	g.confirm = g.confirm[:0]
	g.submitting = true
	g.status = Failed
	g.errMsg = "PINs do not match"
	g.emitLocked(Event{Kind: EventMismatch, Message: g.errMsg})

	g.timerGen++
	gen := g.timerGen
	g.mismatchTimer = g.clock.AfterFunc(g.cfg.MismatchResetDelay, func() { g.restartCreate(gen) })
}

func (g *Gate) restartCreate(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.timerGen || g.status == Closed {
		return
	}
	g.mismatchTimer = nil
	g.clearBuffersLocked()
	g.original = ""
	g.stage = StageCreate
	g.status = Collecting
	g.errMsg = ""
	g.submitting = false
	g.emitLocked(Event{Kind: EventChanged})
}

func (g *Gate) lockLocked(message string) {
	g.status = Locked
	g.errMsg = message
	g.emitLocked(Event{Kind: EventLocked, Message: message})
}

func (g *Gate) closeLocked() bool {
	if g.status == Closed {
		return false
	}
	g.cancelTimersLocked()
	g.clearBuffersLocked()
	g.original = ""
	g.status = Closed
	g.drainLocked()
	close(g.cancelled)
	return true
}

func (g *Gate) clearBuffersLocked() {
	g.buffer = g.buffer[:0]
	g.confirm = g.confirm[:0]
}

func (g *Gate) cancelTimersLocked() {
	g.timerGen++
	if g.mismatchTimer != nil {
		g.mismatchTimer.Stop()
		g.mismatchTimer = nil
	}
	g.resend.stop()
}

func (g *Gate) drainLocked() {
	select {
	case <-g.completions:
	default:
	}
}

func (g *Gate) emitLocked(evt Event) {
	for _, fn := range g.listeners {
		fn(evt)
	}
}
