// Package clock implements the per-side countdown.
//
// There is no background timer authority: the committed record carries each
// side's remaining seconds plus the wall-clock time of the last commit, and
// remaining time "now" is reconstructed on demand by attributing the elapsed
// interval since that commit to whichever side's clock was running. The only
// mutation of committed time is the orchestrator's per-turn charge; the Live
// cache below exists purely so observers can see a countdown between commits
// and never feeds back into the record.
package clock

import (
	"sync"
	"time"

	"github.com/kifulabs/shinpan/internal/model"
)

// Charge subtracts elapsed wall time from a side's committed clock, floored
// at zero. It reports the new remaining value and whether the clock expired.
// Untimed sides are never charged.
func Charge(s *model.MatchState, side model.Side, elapsed time.Duration) (remaining float64, expired bool) {
	r := s.Remaining(side)
	if r == nil {
		return 0, false
	}
	remaining = *r - elapsed.Seconds()
	if remaining < 0 {
		remaining = 0
	}
	s.SetRemaining(side, remaining)
	return remaining, remaining <= 0
}

// Expired reports whether a side's committed clock has reached zero.
// Untimed sides never expire.
func Expired(s *model.MatchState, side model.Side) bool {
	r := s.Remaining(side)
	return r != nil && *r <= 0
}

// RemainingNow reconstructs both sides' remaining time at now from a
// committed record alone — the advance-on-read rule. Elapsed time since the
// last commit is attributed to the side to move, but only once that side's
// clock has started; a finished match reports the committed values as-is.
// Nil means the side is untimed.
func RemainingNow(s *model.MatchState, now time.Time) (white, black *float64) {
	white = copyFloat(s.WhiteRemainingSeconds)
	black = copyFloat(s.BlackRemainingSeconds)
	if s.IsGameOver || s.LastUpdateUnix == 0 {
		return white, black
	}

	side := s.SideToMove()
	if !s.ClockStarted(side) {
		return white, black
	}

	elapsed := float64(now.UnixNano())/float64(time.Second) - s.LastUpdateUnix
	if elapsed < 0 {
		elapsed = 0
	}
	running := white
	if side == model.SideBlack {
		running = black
	}
	if running != nil {
		*running -= elapsed
		if *running < 0 {
			*running = 0
		}
	}
	return white, black
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Live is the advisory display cache for a long-lived process. A ticker task
// advances it once per second so co-located readers get a low-latency
// countdown; it is always reconcilable from the committed record and is never
// written back to it.
type Live struct {
	mu         sync.Mutex
	white      float64
	black      float64
	sideToMove model.Side
	active     bool // false until the side to move has made its first move
	ticking    bool
	last       time.Time
}

// Set resets the cache after a commit. active=false pauses the countdown
// while the side to move has not started its clock yet.
func (l *Live) Set(white, black float64, sideToMove model.Side, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.white = max(0, white)
	l.black = max(0, black)
	l.sideToMove = sideToMove
	l.active = active
	l.ticking = true
	l.last = time.Now()
}

// Clear stops the countdown (match ended or untimed).
func (l *Live) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticking = false
}

// Ticking reports whether the cache is running.
func (l *Live) Ticking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticking
}

// Now advances the running side by the elapsed interval and returns both
// values. Safe to call from any goroutine at any rate; the advance happens
// on read so the values stay current even without a ticker task.
func (l *Live) Now() (white, black float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ticking {
		return l.white, l.black
	}
	now := time.Now()
	if l.active {
		elapsed := now.Sub(l.last).Seconds()
		if l.sideToMove == model.SideWhite {
			l.white = max(0, l.white-elapsed)
		} else {
			l.black = max(0, l.black-elapsed)
		}
	}
	l.last = now
	return l.white, l.black
}
