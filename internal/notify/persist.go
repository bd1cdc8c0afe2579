package notify

import (
	"context"
	"sort"
	"time"

	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

// Store keys. Each record is independently readable and writable.
const (
	KeyConfig    = "engine/config"
	KeyCounters  = "engine/counters"
	KeyScheduled = "engine/scheduled"
)

// CountersRecord is the persisted form of the daily counters. Counters are
// only valid until ResetAt.
type CountersRecord struct {
	Day     string           `json:"day"`
	ResetAt time.Time        `json:"reset_at"`
	Counts  map[Category]int `json:"counts"`
}

// Store writes go through pmu so snapshots reach the store in the order they
// were taken. Lock order: pmu, then mu.

func (e *Engine) persistConfig(ctx context.Context) {
	e.pmu.Lock()
	defer e.pmu.Unlock()
	e.mu.Lock()
	cfg := e.cfg.clone()
	e.mu.Unlock()
	if err := storage.SaveJSON(ctx, e.store, KeyConfig, cfg); err != nil {
		e.log.Warn("persist config failed", logx.Err(err))
	}
}

func (e *Engine) persistCounters(ctx context.Context) {
	e.pmu.Lock()
	defer e.pmu.Unlock()
	e.mu.Lock()
	rec := CountersRecord{Day: e.day, ResetAt: e.nextReset, Counts: copyCounts(e.counts)}
	e.mu.Unlock()
	if err := storage.SaveJSON(ctx, e.store, KeyCounters, rec); err != nil {
		e.log.Warn("persist counters failed", logx.Err(err))
	}
}

func (e *Engine) persistScheduled(ctx context.Context) {
	e.pmu.Lock()
	defer e.pmu.Unlock()
	e.mu.Lock()
	list := e.scheduledListLocked()
	e.mu.Unlock()
	if err := storage.SaveJSON(ctx, e.store, KeyScheduled, list); err != nil {
		e.log.Warn("persist scheduled failed", logx.Err(err))
	}
}

func (e *Engine) scheduledListLocked() []ScheduledEntry {
	out := make([]ScheduledEntry, 0, len(e.scheduled))
	for _, s := range e.scheduled {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Request.ID < out[j].Request.ID
	})
	return out
}

// loadConfig returns the persisted config, or base when the record is
// missing or unreadable.
func (e *Engine) loadConfig(ctx context.Context, base Config) Config {
	var cfg Config
	ok, err := storage.LoadJSON(ctx, e.store, KeyConfig, &cfg)
	if err != nil {
		e.log.Warn("load config failed; using defaults", logx.Err(err))
		return base
	}
	if !ok {
		return base
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		e.log.Warn("persisted config invalid; using defaults", logx.Err(err))
		return base
	}
	return cfg
}

func (e *Engine) loadCounters(ctx context.Context, now time.Time) map[Category]int {
	var rec CountersRecord
	ok, err := storage.LoadJSON(ctx, e.store, KeyCounters, &rec)
	if err != nil {
		e.log.Warn("load counters failed; starting empty", logx.Err(err))
		return map[Category]int{}
	}
	if !ok {
		return map[Category]int{}
	}
	if rec.ResetAt.IsZero() || !now.Before(rec.ResetAt) {
		e.log.Debug("persisted counters belong to a past day", logx.String("day", rec.Day))
		return map[Category]int{}
	}
	out := map[Category]int{}
	for k, v := range rec.Counts {
		if k.Valid() && v > 0 {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) loadScheduled(ctx context.Context) []ScheduledEntry {
	var list []ScheduledEntry
	if _, err := storage.LoadJSON(ctx, e.store, KeyScheduled, &list); err != nil {
		e.log.Warn("load scheduled failed; starting empty", logx.Err(err))
		return nil
	}
	out := list[:0]
	for _, s := range list {
		if err := s.Request.validate(); err != nil || s.Request.ID == "" {
			e.log.Warn("dropping unreadable scheduled entry", logx.String("id", s.Request.ID), logx.Err(err))
			continue
		}
		out = append(out, s)
	}
	return out
}

func copyCounts(m map[Category]int) map[Category]int {
	out := make(map[Category]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
