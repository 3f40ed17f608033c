package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kifulabs/shinpan/internal/model"
)

func timedState(white, black float64) *model.MatchState {
	s := model.NewMatchState("m1")
	s.SetRemaining(model.SideWhite, white)
	s.SetRemaining(model.SideBlack, black)
	return s
}

func TestChargeDecrements(t *testing.T) {
	s := timedState(60, 60)
	remaining, expired := Charge(s, model.SideWhite, 12*time.Second)
	assert.InDelta(t, 48, remaining, 1e-9)
	assert.False(t, expired)
	assert.InDelta(t, 60, *s.BlackRemainingSeconds, 1e-9)
}

func TestChargeClampsAndExpires(t *testing.T) {
	s := timedState(5, 60)
	remaining, expired := Charge(s, model.SideWhite, 6*time.Second)
	assert.Equal(t, 0.0, remaining)
	assert.True(t, expired)
	assert.Equal(t, 0.0, *s.WhiteRemainingSeconds)
}

func TestChargeUntimedIsNoop(t *testing.T) {
	s := model.NewMatchState("m1")
	_, expired := Charge(s, model.SideWhite, time.Hour)
	assert.False(t, expired)
	assert.Nil(t, s.WhiteRemainingSeconds)
}

func TestChargeMonotonic(t *testing.T) {
	s := timedState(10, 10)
	prev := 10.0
	for range 5 {
		r, _ := Charge(s, model.SideBlack, 3*time.Second)
		assert.LessOrEqual(t, r, prev)
		assert.GreaterOrEqual(t, r, 0.0)
		prev = r
	}
	assert.Equal(t, 0.0, prev)
}

func TestExpired(t *testing.T) {
	s := timedState(0, 4)
	assert.True(t, Expired(s, model.SideWhite))
	assert.False(t, Expired(s, model.SideBlack))
	assert.False(t, Expired(model.NewMatchState("m2"), model.SideWhite))
}

func TestRemainingNowAttributesToRunningSide(t *testing.T) {
	s := timedState(100, 100)
	s.MarkClockStarted(model.SideWhite)
	commit := time.Now().Add(-10 * time.Second)
	s.Touch(commit)

	// White to move (empty history) with a started clock: the 10s since the
	// commit belong to White.
	white, black := RemainingNow(s, time.Now())
	require.NotNil(t, white)
	require.NotNil(t, black)
	assert.InDelta(t, 90, *white, 0.5)
	assert.InDelta(t, 100, *black, 1e-9)
}

func TestRemainingNowBeforeFirstMoveIsFree(t *testing.T) {
	s := timedState(100, 100)
	s.Touch(time.Now().Add(-30 * time.Second))

	white, _ := RemainingNow(s, time.Now())
	assert.InDelta(t, 100, *white, 1e-9) // clock not started yet
}

func TestRemainingNowGameOverFrozen(t *testing.T) {
	s := timedState(42, 17)
	s.MarkClockStarted(model.SideWhite)
	s.IsGameOver = true
	s.Touch(time.Now().Add(-time.Hour))

	white, black := RemainingNow(s, time.Now())
	assert.InDelta(t, 42, *white, 1e-9)
	assert.InDelta(t, 17, *black, 1e-9)
}

func TestRemainingNowDoesNotMutateState(t *testing.T) {
	s := timedState(100, 100)
	s.MarkClockStarted(model.SideWhite)
	s.Touch(time.Now().Add(-20 * time.Second))

	_, _ = RemainingNow(s, time.Now())
	assert.InDelta(t, 100, *s.WhiteRemainingSeconds, 1e-9)
}

func TestRemainingNowUntimed(t *testing.T) {
	s := model.NewMatchState("m1")
	s.Touch(time.Now())
	white, black := RemainingNow(s, time.Now())
	assert.Nil(t, white)
	assert.Nil(t, black)
}

func TestLiveCountdown(t *testing.T) {
	var l Live
	l.Set(30, 30, model.SideWhite, true)
	time.Sleep(20 * time.Millisecond)
	white, black := l.Now()
	assert.Less(t, white, 30.0)
	assert.Equal(t, 30.0, black)
}

func TestLiveInactivePauses(t *testing.T) {
	var l Live
	l.Set(30, 30, model.SideBlack, false)
	time.Sleep(20 * time.Millisecond)
	white, black := l.Now()
	assert.Equal(t, 30.0, white)
	assert.Equal(t, 30.0, black)
}

func TestLiveClear(t *testing.T) {
	var l Live
	l.Set(30, 30, model.SideWhite, true)
	l.Clear()
	assert.False(t, l.Ticking())
	white, _ := l.Now()
	assert.Equal(t, 30.0, white)
}
