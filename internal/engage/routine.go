package engage

import (
	"context"
	"time"

	"nudgebot/internal/notify"
	logx "nudgebot/pkg/logx"
)

const (
	routineDays       = 7
	routineTopPick    = 0.7
	routineRefreshDue = 24 * time.Hour
)

// rescheduleRoutine replaces every routine entry in the engine with a fresh
// week and returns how many the engine accepted. During quiet hours the
// current week is kept and the replan waits for the next open hour.
func (p *Planner) rescheduleRoutine(ctx context.Context) int {
	p.routineMu.Lock()
	defer p.routineMu.Unlock()

	now := p.clock.Now()
	if open := p.engine.NextOpen(now); !open.Equal(now) {
		wait := routineRefreshDue
		if !open.IsZero() {
			wait = open.Sub(now)
		}
		p.mu.Lock()
		if !p.closed {
			p.armRefreshLocked(wait)
		}
		p.mu.Unlock()
		p.log.Debug("routine deferred", logx.Time("until", open))
		return 0
	}

	cancelled := 0
	for _, s := range p.engine.GetScheduledNotifications(ctx) {
		if s.Request.Source() == SourceRoutine && p.engine.CancelNotification(ctx, s.Request.ID) {
			cancelled++
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	plan := p.planRoutineLocked(now)
	p.armRefreshLocked(routineRefreshDue)
	p.mu.Unlock()

	accepted := 0
	for _, req := range plan {
		id, err := p.engine.ScheduleNotification(ctx, req)
		if err != nil {
			p.log.Warn("routine schedule failed", logx.Any("day", req.Data["day"]), logx.Err(err))
			continue
		}
		if id != "" {
			accepted++
		}
	}
	p.log.Debug("routine planned",
		logx.Int("cancelled", cancelled),
		logx.Int("planned", len(plan)),
		logx.Int("accepted", accepted),
	)
	return accepted
}

// planRoutineLocked builds one request per day for the next week, each at a
// random minute inside one of the two strongest preferred ranges.
func (p *Planner) planRoutineLocked(now time.Time) []notify.Request {
	ranges := p.ranges.slice()
	if len(ranges) == 0 {
		return nil
	}
	local := now.In(p.loc)
	out := make([]notify.Request, 0, routineDays)
	for day := 1; day <= routineDays; day++ {
		r := ranges[0]
		if len(ranges) > 1 && p.rng.Float64() >= routineTopPick {
			r = ranges[1]
		}
		span := r.Span()
		if span <= 0 {
			span = 1
		}
		offset := time.Duration(p.rng.Intn(span*60)) * time.Minute
		at := time.Date(local.Year(), local.Month(), local.Day()+day, r.StartHour, 0, 0, 0, p.loc).Add(offset)

		cat := notify.CategoryInsight
		if day%2 == 0 {
			cat = notify.CategoryCheckIn
		}
		msg := p.catalog.pick(cat, p.rng)
		out = append(out, notify.Request{
			Category:     cat,
			Title:        msg.Title,
			Body:         msg.Body,
			Priority:     notify.PriorityNormal,
			ScheduledFor: at,
			Data:         map[string]any{"source": SourceRoutine, "day": day},
		})
	}
	return out
}

// armRefreshLocked keeps the routine week rolling by replanning after d.
func (p *Planner) armRefreshLocked(d time.Duration) {
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
	}
	p.refreshGen++
	gen := p.refreshGen
	p.refreshTimer = p.clock.AfterFunc(d, func() {
		p.mu.Lock()
		stale := p.closed || gen != p.refreshGen
		p.mu.Unlock()
		if stale {
			return
		}
		p.rescheduleRoutine(context.Background())
	})
}
