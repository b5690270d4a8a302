package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/mna-news/translate-runner/internal/resilience"
)

// SlotStore reserves the next call slot shared by every process.
type SlotStore interface {
	ReserveCallSlot(ctx context.Context, name string, interval time.Duration, now time.Time) (time.Time, error)
}

const callSlotName = "provider"

// Throttle spaces provider calls: a local requests-per-minute limiter and a
// store-backed minimum interval across processes.
type Throttle struct {
	slots    SlotStore
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewThrottle creates a Throttle. Zero interval or rpm disables that part.
func NewThrottle(slots SlotStore, interval time.Duration, rpm int) *Throttle {
	t := &Throttle{
		slots:    slots,
		interval: interval,
		now:      time.Now,
		sleep:    resilience.SleepContext,
	}
	if rpm > 0 {
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return t
}

// Wait blocks until the next provider call may start.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "dispatch: rate limiter")
		}
	}
	if t.slots == nil || t.interval <= 0 {
		return nil
	}
	now := t.now()
	slot, err := t.slots.ReserveCallSlot(ctx, callSlotName, t.interval, now)
	if err != nil {
		return eris.Wrap(err, "dispatch: reserve call slot")
	}
	if d := slot.Sub(now); d > 0 {
		return t.sleep(ctx, d)
	}
	return nil
}
