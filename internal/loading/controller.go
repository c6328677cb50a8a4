/**
 * @description
 * This package implements the loading controller shared by every money-movement
 * screen. It drives a single "is something happening" signal through a small set of
 * phases (idle, loading, processing, confirming, success, error), each carrying a
 * human-readable message and the instant it was entered.
 *
 * Key features:
 * - Any phase can be requested from any phase; exactly one is observable at a time.
 * - Success and error phases revert to idle on their own after a fixed duration.
 * - Requesting a new phase cancels the pending revert of the previous one, and a
 *   revert that was already in flight is discarded by a generation check.
 *
 * @dependencies
 * - internal/clock: owned, cancellable timers.
 * - go.uber.org/zap: structured logging.
 */

package loading

import (
	"sync"
	"time"

	"github.com/transfa/payflow/internal/clock"
	"go.uber.org/zap"
)

const (
	DefaultSuccessDuration = 2000 * time.Millisecond
	DefaultErrorDuration   = 3000 * time.Millisecond
)

// Phase is a named state of the controller.
type Phase int

const (
	Idle Phase = iota
	Loading
	Processing
	Confirming
	Success
	Error
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Processing:
		return "processing"
	case Confirming:
		return "confirming"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func defaultMessage(p Phase) string {
	switch p {
	case Loading:
		return "Loading..."
	case Processing:
		return "Processing..."
	case Confirming:
		return "Confirming..."
	case Success:
		return "Success!"
	case Error:
		return "Something went wrong"
	default:
		return ""
	}
}

// State is the externally observable phase of the controller.
type State struct {
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	EnteredAt time.Time `json:"entered_at"`
}

// Busy reports whether any phase other than Idle is active.
func (s State) Busy() bool {
	return s.Phase != Idle
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	SuccessDuration time.Duration
	ErrorDuration   time.Duration
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Controller is safe for concurrent use. Listeners registered with Subscribe
// run with the controller locked and must not call back into it.
type Controller struct {
	mu sync.Mutex

	clock           clock.Clock
	logger          *zap.Logger
	successDuration time.Duration
	errorDuration   time.Duration

	state      State
	revert     clock.Timer
	generation uint64
	disposed   bool

	listeners    map[int]func(State)
	nextListener int
}

// New creates a controller in the Idle phase.
func New(opts Options) *Controller {
	if opts.SuccessDuration <= 0 {
		opts.SuccessDuration = DefaultSuccessDuration
	}
	if opts.ErrorDuration <= 0 {
		opts.ErrorDuration = DefaultErrorDuration
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller{
		clock:           opts.Clock,
		logger:          opts.Logger.With(zap.String("component", "loading")),
		successDuration: opts.SuccessDuration,
		errorDuration:   opts.ErrorDuration,
		state:           State{Phase: Idle, EnteredAt: opts.Clock.Now()},
		listeners:       make(map[int]func(State)),
	}
}

func (c *Controller) StartLoading(msg string)  { c.set(Loading, msg, 0) }
func (c *Controller) SetProcessing(msg string) { c.set(Processing, msg, 0) }
func (c *Controller) SetConfirming(msg string) { c.set(Confirming, msg, 0) }

// SetSuccess enters the Success phase and reverts to Idle after the success duration.
func (c *Controller) SetSuccess(msg string) { c.set(Success, msg, c.successDuration) }

// SetError enters the Error phase and reverts to Idle after the error duration.
func (c *Controller) SetError(msg string) { c.set(Error, msg, c.errorDuration) }

// Stop returns to Idle immediately.
func (c *Controller) Stop() { c.set(Idle, "", 0) }

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a phase other than Idle is active.
func (c *Controller) Busy() bool {
	return c.State().Busy()
}

// SuccessDuration is how long the Success phase stays visible.
func (c *Controller) SuccessDuration() time.Duration { return c.successDuration }

// ErrorDuration is how long the Error phase stays visible.
func (c *Controller) ErrorDuration() time.Duration { return c.errorDuration }

// Subscribe registers fn to receive every state change. The returned func
// removes the listener.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Dispose cancels the pending revert timer and turns every later call into a no-op.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.cancelRevertLocked()
	c.generation++
	c.disposed = true
	c.listeners = make(map[int]func(State))
}

func (c *Controller) set(phase Phase, msg string, revertAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		c.logger.Debug("phase change ignored after dispose", zap.Stringer("phase", phase))
		return
	}

	c.cancelRevertLocked()
	c.generation++
	if phase == Idle && c.state.Phase == Idle {
		return
	}

	if msg == "" {
		msg = defaultMessage(phase)
	}
	c.state = State{Phase: phase, Message: msg, EnteredAt: c.clock.Now()}

	if revertAfter > 0 {
		gen := c.generation
		c.revert = c.clock.AfterFunc(revertAfter, func() { c.revertIfCurrent(gen) })
	}
	c.notifyLocked()
}

// revertIfCurrent runs on the revert timer. A timer that lost the race with a
// newer phase finds a different generation and does nothing.
func (c *Controller) revertIfCurrent(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.generation {
		return
	}
	c.revert = nil
	c.generation++
	c.state = State{Phase: Idle, EnteredAt: c.clock.Now()}
	c.notifyLocked()
}

func (c *Controller) cancelRevertLocked() {
	if c.revert != nil {
		c.revert.Stop()
		c.revert = nil
	}
}

func (c *Controller) notifyLocked() {
	for _, fn := range c.listeners {
		fn(c.state)
	}
}
