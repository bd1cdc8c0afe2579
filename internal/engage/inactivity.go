package engage

import (
	"context"
	"time"

	"nudgebot/internal/notify"
	logx "nudgebot/pkg/logx"
)

const (
	SourceInactivity = "inactivity"
	SourceRoutine    = "routine"
	SourceMilestone  = "milestone"
	SourceInsight    = "insight"
)

// inactivityCandidates are tried in order; a later one wins only with a
// strictly higher response rate.
var inactivityCandidates = []notify.Category{
	notify.CategoryEngagement,
	notify.CategoryCheckIn,
	notify.CategoryInsight,
}

func (p *Planner) armWatchLocked(d time.Duration) {
	if p.watchTimer != nil {
		p.watchTimer.Stop()
	}
	p.watchGen++
	gen := p.watchGen
	p.watchTimer = p.clock.AfterFunc(d, func() { p.onInactivity(gen) })
}

func (p *Planner) onInactivity(gen uint64) {
	now := p.clock.Now()
	open := p.engine.NextOpen(now)

	p.mu.Lock()
	if p.closed || gen != p.watchGen {
		p.mu.Unlock()
		return
	}
	elapsed := now.Sub(p.lastActive)
	due := elapsed >= p.threshold
	if due && !open.Equal(now) {
		// Hold the nudge until quiet hours end.
		wait := maxWatchInterval
		if !open.IsZero() {
			wait = open.Sub(now)
		}
		p.armWatchLocked(wait)
		p.mu.Unlock()
		p.log.Debug("inactivity nudge held", logx.Time("until", open))
		return
	}
	var (
		cat notify.Category
		msg Message
	)
	if due {
		cat = p.bestCategoryLocked()
		msg = p.catalog.pick(cat, p.rng)
	}
	p.armWatchLocked(min(p.threshold, maxWatchInterval))
	p.mu.Unlock()

	if !due {
		return
	}
	ctx := context.Background()
	days := int(elapsed / (24 * time.Hour))
	id, err := p.engine.ScheduleNotification(ctx, notify.Request{
		Category: cat,
		Title:    msg.Title,
		Body:     msg.Body,
		Priority: notify.PriorityNormal,
		Data:     map[string]any{"source": SourceInactivity, "days_since_last_active": days},
	})
	switch {
	case err != nil:
		p.log.Warn("inactivity nudge failed", logx.String("category", string(cat)), logx.Err(err))
	case id == "":
		p.log.Debug("inactivity nudge declined", logx.String("category", string(cat)), logx.Int("days", days))
	default:
		p.log.Info("inactivity nudge sent", logx.String("id", id), logx.String("category", string(cat)), logx.Int("days", days))
	}
}

func (p *Planner) bestCategoryLocked() notify.Category {
	best := inactivityCandidates[0]
	bestRate := p.rates[best]
	for _, c := range inactivityCandidates[1:] {
		if r := p.rates[c]; r > bestRate {
			best, bestRate = c, r
		}
	}
	return best
}
