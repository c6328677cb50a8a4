package pinpad

import (
	"time"

	"github.com/transfa/payflow/internal/clock"
)

// resendCountdown tracks the "resend code" cooldown of the create flow. It
// ticks once per second and is owned by the gate, so Reset, Cancel and Close
// all stop it.
type resendCountdown struct {
	remaining time.Duration
	timer     clock.Timer
	gen       uint64
}

func (r *resendCountdown) stop() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.remaining = 0
}

// StartResendCountdown (re)starts the resend cooldown. Partial seconds are
// rounded up.
func (g *Gate) StartResendCountdown(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Closed || d <= 0 {
		return
	}

	g.resend.stop()
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	g.resend.remaining = d
	g.scheduleResendTickLocked()
	g.emitLocked(Event{Kind: EventChanged})
}

// ResendRemaining is the time left before a new code may be requested.
func (g *Gate) ResendRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resend.remaining
}

// CanResend reports whether the cooldown has elapsed.
func (g *Gate) CanResend() bool {
	return g.ResendRemaining() == 0
}

func (g *Gate) scheduleResendTickLocked() {
	gen := g.resend.gen
	g.resend.timer = g.clock.AfterFunc(time.Second, func() { g.resendTick(gen) })
}

func (g *Gate) resendTick(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.resend.gen {
		return
	}
	g.resend.timer = nil
	g.resend.remaining -= time.Second
	if g.resend.remaining > 0 {
		g.scheduleResendTickLocked()
	} else {
		g.resend.remaining = 0
	}
	g.emitLocked(Event{Kind: EventChanged})
}
