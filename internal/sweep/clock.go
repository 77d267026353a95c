package sweep

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dropbox/godropbox/time2"
)

// Clock is the only way the sweep package waits or reads time.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct {
	wall time2.Clock
}

// RealClock returns a Clock backed by timers and the process wall clock.
func RealClock() Clock { return realClock{wall: time2.DefaultClock} }

func (c realClock) Now() time.Time { return c.wall.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// JitterFunc draws a delay from [lo, hi].
type JitterFunc func(lo, hi time.Duration) time.Duration

// UniformJitter samples uniformly from [lo, hi].
func UniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
