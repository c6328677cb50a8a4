package loading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/payflow/internal/clock/clocktest"
)

func newTestController(t *testing.T) (*Controller, *clocktest.Fake) {
	t.Helper()
	fake := clocktest.NewFake(time.Time{})
	c := New(Options{Clock: fake})
	t.Cleanup(c.Dispose)
	return c, fake
}

func recordPhases(c *Controller) *[]Phase {
	var phases []Phase
	c.Subscribe(func(s State) { phases = append(phases, s.Phase) })
	return &phases
}

func TestController_StartsIdle(t *testing.T) {
	c, _ := newTestController(t)

	state := c.State()
	assert.Equal(t, Idle, state.Phase)
	assert.False(t, c.Busy())
}

func TestController_AnyPhaseFromAnyPhase(t *testing.T) {
	c, fake := newTestController(t)

	c.SetConfirming("almost there")
	assert.Equal(t, Confirming, c.State().Phase)

	fake.Advance(time.Second)
	c.StartLoading("again")
	state := c.State()
	assert.Equal(t, Loading, state.Phase)
	assert.Equal(t, "again", state.Message)
	assert.Equal(t, fake.Now(), state.EnteredAt)
}

func TestController_DefaultMessages(t *testing.T) {
	c, _ := newTestController(t)

	c.SetProcessing("")
	assert.Equal(t, "Processing...", c.State().Message)
	c.SetError("")
	assert.Equal(t, "Something went wrong", c.State().Message)
}

func TestController_SuccessRevertsAfterExactlySuccessDuration(t *testing.T) {
	c, fake := newTestController(t)

	c.SetSuccess("Done")
	fake.Advance(DefaultSuccessDuration - time.Millisecond)
	assert.Equal(t, Success, c.State().Phase)

	fake.Advance(time.Millisecond)
	assert.Equal(t, Idle, c.State().Phase)
	assert.Equal(t, 0, fake.Pending())
}

func TestController_ErrorRevertsAfterErrorDuration(t *testing.T) {
	c, fake := newTestController(t)

	c.SetError("declined")
	fake.Advance(DefaultErrorDuration - time.Millisecond)
	assert.Equal(t, Error, c.State().Phase)

	fake.Advance(time.Millisecond)
	assert.Equal(t, Idle, c.State().Phase)
}

func TestController_NewPhaseCancelsStaleRevert(t *testing.T) {
	c, fake := newTestController(t)

	c.SetSuccess("Done")
	fake.Advance(time.Second)
	c.StartLoading("next transaction")
	assert.Equal(t, 0, fake.Pending(), "revert timer must be cancelled by the new phase")

	fake.Advance(10 * time.Second)
	assert.Equal(t, Loading, c.State().Phase)
	assert.Equal(t, "next transaction", c.State().Message)
}

func TestController_LateRevertCallbackIsDiscarded(t *testing.T) {
	c, _ := newTestController(t)

	c.SetError("boom")
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	c.StartLoading("retry")
	// Simulate a timer that had already fired before Stop could cancel it.
	c.revertIfCurrent(gen)

	assert.Equal(t, Loading, c.State().Phase)
}

func TestController_CustomDurations(t *testing.T) {
	fake := clocktest.NewFake(time.Time{})
	c := New(Options{Clock: fake, SuccessDuration: 500 * time.Millisecond, ErrorDuration: time.Second})
	defer c.Dispose()

	c.SetSuccess("")
	fake.Advance(500 * time.Millisecond)
	assert.Equal(t, Idle, c.State().Phase)
	assert.Equal(t, 500*time.Millisecond, c.SuccessDuration())
	assert.Equal(t, time.Second, c.ErrorDuration())
}

func TestController_StopIsImmediate(t *testing.T) {
	c, fake := newTestController(t)
	phases := recordPhases(c)

	c.SetSuccess("Done")
	c.Stop()
	assert.Equal(t, Idle, c.State().Phase)
	assert.Equal(t, 0, fake.Pending())

	c.Stop()
	assert.Equal(t, []Phase{Success, Idle}, *phases, "stopping while idle should not notify")
}

func TestController_DisposeCancelsTimersAndIgnoresLaterCalls(t *testing.T) {
	fake := clocktest.NewFake(time.Time{})
	c := New(Options{Clock: fake})
	phases := recordPhases(c)

	c.SetSuccess("Done")
	c.Dispose()
	assert.Equal(t, 0, fake.Pending())

	c.StartLoading("after dispose")
	fake.Advance(time.Minute)
	assert.Equal(t, Success, c.State().Phase)
	assert.Equal(t, []Phase{Success}, *phases)
}

func TestController_Unsubscribe(t *testing.T) {
	c, _ := newTestController(t)
	calls := 0
	cancel := c.Subscribe(func(State) { calls++ })

	c.StartLoading("")
	cancel()
	c.SetProcessing("")
	assert.Equal(t, 1, calls)
}

func TestExecute_HappyPathSequence(t *testing.T) {
	c, fake := newTestController(t)
	phases := recordPhases(c)

	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		return "receipt", nil
	}, Messages{Processing: "Processing payment", Confirming: "Confirming", Success: "Paid"})

	require.NoError(t, err)
	assert.Equal(t, "receipt", got)
	assert.Equal(t, []Phase{Loading, Processing, Confirming, Success}, *phases)
	assert.Equal(t, "Paid", c.State().Message)

	fake.Advance(DefaultSuccessDuration)
	assert.Equal(t, Idle, c.State().Phase)
}

func TestExecute_SkipsOptionalPhases(t *testing.T) {
	c, _ := newTestController(t)
	phases := recordPhases(c)

	_, err := Execute(context.Background(), c, func(context.Context) (int, error) { return 1, nil }, Messages{})

	require.NoError(t, err)
	assert.Equal(t, []Phase{Loading, Success}, *phases)
}

func TestExecute_FailureSetsErrorAndReturnsOriginalError(t *testing.T) {
	c, _ := newTestController(t)
	original := errors.New("X")

	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		return 0, original
	}, Messages{Processing: "Processing"})

	require.Error(t, err)
	assert.Same(t, original, err)
	state := c.State()
	assert.Equal(t, Error, state.Phase)
	assert.Equal(t, "X", state.Message)
}

func TestExecute_ErrorMessageOverride(t *testing.T) {
	c, _ := newTestController(t)

	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		return 0, errors.New("dial tcp: connection refused")
	}, Messages{Error: "We could not reach the bank"})

	require.Error(t, err)
	assert.Equal(t, "We could not reach the bank", c.State().Message)
}

func TestPhase_MarshalText(t *testing.T) {
	text, err := Confirming.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "confirming", string(text))
	assert.Equal(t, "unknown", Phase(42).String())
}
