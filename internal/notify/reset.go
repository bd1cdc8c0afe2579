package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "nudgebot/pkg/logx"
)

const DefaultResetSpec = "@midnight"

var resetParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseResetSpec parses the cron expression that starts a new quota day.
func ParseResetSpec(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultResetSpec
	}
	s, err := resetParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: reset spec %q: %w", ErrInvalidConfig, spec, err)
	}
	return s, nil
}

// armResetLocked (re)arms the counter reset timer for the next boundary
// after now. Older timers are stopped and ignored by generation.
func (e *Engine) armResetLocked(now time.Time) {
	if e.resetTimer != nil {
		e.resetTimer.Stop()
	}
	next := e.resetSched.Next(now.In(e.loc))
	e.nextReset = next
	e.resetGen++
	gen := e.resetGen
	e.resetTimer = e.clock.AfterFunc(next.Sub(now), func() { e.onReset(gen) })
}

func (e *Engine) onReset(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.resetGen {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.resetCountersLocked(now)
	next := e.nextReset
	e.mu.Unlock()

	e.log.Info("daily counters reset", logx.Time("next_reset", next))
	e.persistCounters(context.Background())
}

// rollLocked resets counters when the reset boundary passed without the
// timer firing (suspend, clock jump).
func (e *Engine) rollLocked(now time.Time) bool {
	if e.nextReset.IsZero() || now.Before(e.nextReset) {
		return false
	}
	e.resetCountersLocked(now)
	return true
}

func (e *Engine) resetCountersLocked(now time.Time) {
	e.counts = map[Category]int{}
	e.day = e.dayKey(now)
	e.armResetLocked(now)
}

func (e *Engine) dayKey(t time.Time) string {
	return t.In(e.loc).Format(time.DateOnly)
}
