package engage

import (
	"context"
	"time"

	"nudgebot/internal/notify"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

const KeyActivity = "engage/activity"

// activityRecord is the persisted form of the learned pattern.
type activityRecord struct {
	LastActive            time.Time                   `json:"last_active"`
	AvgSessionMs          int64                       `json:"avg_session_ms"`
	SessionsPerDay        float64                     `json:"sessions_per_day"`
	Ranges                []TimeRange                 `json:"ranges"`
	InactivityThresholdMs int64                       `json:"inactivity_threshold_ms"`
	Responses             []ResponseEvent             `json:"responses"`
	ResponseRates         map[notify.Category]float64 `json:"response_rates"`
}

func (p *Planner) recordLocked() activityRecord {
	return activityRecord{
		LastActive:            p.lastActive,
		AvgSessionMs:          p.avgSession.Milliseconds(),
		SessionsPerDay:        p.sessionsPerDay,
		Ranges:                p.ranges.slice(),
		InactivityThresholdMs: p.threshold.Milliseconds(),
		Responses:             p.responses.slice(),
		ResponseRates:         p.responses.rates(),
	}
}

func (p *Planner) persist(ctx context.Context) {
	p.mu.Lock()
	rec := p.recordLocked()
	p.mu.Unlock()
	if err := storage.SaveJSON(ctx, p.store, KeyActivity, rec); err != nil {
		p.log.Warn("persist activity pattern failed", logx.Err(err))
	}
}

// loadPattern returns the persisted record when it is present and sane.
func (p *Planner) loadPattern(ctx context.Context) (activityRecord, bool) {
	var rec activityRecord
	ok, err := storage.LoadJSON(ctx, p.store, KeyActivity, &rec)
	if err != nil {
		p.log.Warn("activity pattern unreadable, using defaults", logx.Err(err))
		return activityRecord{}, false
	}
	if !ok {
		return activityRecord{}, false
	}
	for _, r := range rec.Ranges {
		if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 23 || r.Weight < 0 || r.Weight > 1 {
			p.log.Warn("activity pattern invalid, using defaults", logx.Int("start_hour", r.StartHour), logx.Int("end_hour", r.EndHour))
			return activityRecord{}, false
		}
	}
	return rec, true
}

// applyRecordLocked restores rec. The inactivity threshold always comes
// from Options.
func (p *Planner) applyRecordLocked(rec activityRecord) {
	if !rec.LastActive.IsZero() {
		p.lastActive = rec.LastActive
	}
	if rec.AvgSessionMs > 0 {
		p.avgSession = time.Duration(rec.AvgSessionMs) * time.Millisecond
	}
	if rec.SessionsPerDay > 0 {
		p.sessionsPerDay = rec.SessionsPerDay
	}
	if rec.Ranges != nil {
		p.ranges.reset(rec.Ranges)
	}
	var evs []ResponseEvent
	for _, ev := range rec.Responses {
		if ev.Category.Valid() {
			evs = append(evs, ev)
		}
	}
	if len(evs) > MaxResponses {
		evs = evs[len(evs)-MaxResponses:]
	}
	p.responses.reset(evs)
	p.rates = p.responses.rates()
}
