package engage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"nudgebot/internal/eventbus"
	"nudgebot/internal/notify"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

const (
	DefaultInactivityThreshold = 72 * time.Hour
	DefaultAvgSession          = 5 * time.Minute
	DefaultSessionsPerDay      = 3

	sessionEMAWeight = 0.2
	maxWatchInterval = 24 * time.Hour
)

var ErrInvalidInput = errors.New("invalid input")

// Engine is the subset of the notification engine the planner drives.
type Engine interface {
	Initialize(ctx context.Context) bool
	ScheduleNotification(ctx context.Context, req notify.Request) (string, error)
	CancelNotification(ctx context.Context, id string) bool
	CancelAllNotifications(ctx context.Context)
	GetScheduledNotifications(ctx context.Context) []notify.ScheduledEntry
	// NextOpen returns t outside quiet hours, else the next open time (zero
	// when there is none).
	NextOpen(t time.Time) time.Time
}

type Options struct {
	Clock    clockwork.Clock
	Location *time.Location // default time.Local
	// Rand drives message and slot selection. Default is time-seeded.
	Rand                *rand.Rand
	Catalog             Catalog
	InactivityThreshold time.Duration
}

// Planner learns when the user tends to engage and keeps a rolling week
// of routine check-ins plus an inactivity watch in the engine.
type Planner struct {
	engine  Engine
	store   storage.Store
	log     logx.Logger
	clock   clockwork.Clock
	loc     *time.Location
	catalog Catalog

	initMu sync.Mutex

	// routineMu serializes routine (re)planning; never held with mu while
	// calling the engine.
	routineMu sync.Mutex

	mu             sync.Mutex
	rng            *rand.Rand
	initialized    bool
	closed         bool
	lastActive     time.Time
	avgSession     time.Duration
	sessionsPerDay float64
	threshold      time.Duration
	defThreshold   time.Duration
	ranges         rangeArena
	responses      responseRing
	rates          map[notify.Category]float64

	watchTimer   clockwork.Timer
	watchGen     uint64
	refreshTimer clockwork.Timer
	refreshGen   uint64
}

func New(engine Engine, st storage.Store, opts Options, log logx.Logger) (*Planner, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidInput)
	}
	if st == nil {
		st = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	cat := opts.Catalog
	if cat == nil {
		cat = DefaultCatalog()
	}
	th := opts.InactivityThreshold
	if th <= 0 {
		th = DefaultInactivityThreshold
	}
	p := &Planner{
		engine:       engine,
		store:        st,
		log:          log,
		clock:        clock,
		loc:          loc,
		catalog:      cat,
		rng:          rng,
		defThreshold: th,
	}
	p.resetPatternLocked(clock.Now())
	return p, nil
}

func (p *Planner) resetPatternLocked(now time.Time) {
	p.lastActive = now
	p.avgSession = DefaultAvgSession
	p.sessionsPerDay = DefaultSessionsPerDay
	p.threshold = p.defThreshold
	p.ranges.reset(defaultRanges())
	p.responses.reset(nil)
	p.rates = map[notify.Category]float64{}
}

// Initialize initializes the engine, loads the learned pattern, arms the
// inactivity watch and plans the routine week. It reports the engine's
// permission result.
func (p *Planner) Initialize(ctx context.Context) bool {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	granted := p.engine.Initialize(ctx)

	p.mu.Lock()
	if p.initialized || p.closed {
		p.mu.Unlock()
		return granted
	}
	p.mu.Unlock()

	rec, ok := p.loadPattern(ctx)

	now := p.clock.Now()
	p.mu.Lock()
	if ok {
		p.applyRecordLocked(rec)
	}
	p.initialized = true
	wait := p.threshold - now.Sub(p.lastActive)
	if wait < 0 {
		wait = 0
	}
	p.armWatchLocked(wait)
	p.mu.Unlock()

	n := p.rescheduleRoutine(ctx)
	p.log.Info("planner initialized",
		logx.Bool("restored", ok),
		logx.Int("routine", n),
		logx.Duration("inactivity_in", wait),
	)
	return granted
}

// RecordUserActivity marks the user active now and restarts the inactivity
// watch.
func (p *Planner) RecordUserActivity(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.lastActive = p.clock.Now()
	if p.initialized {
		p.armWatchLocked(p.threshold)
	}
	p.mu.Unlock()
	p.persist(ctx)
}

// RecordNotificationResponse records whether the user acted on a
// notification of cat and refreshes the response rates.
func (p *Planner) RecordNotificationResponse(ctx context.Context, cat notify.Category, responded bool) error {
	if !cat.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidInput, notify.ErrUnknownCategory, cat)
	}
	p.mu.Lock()
	p.responses.push(ResponseEvent{Category: cat, At: p.clock.Now(), Responded: responded})
	p.rates = p.responses.rates()
	rate := p.rates[cat]
	p.mu.Unlock()

	p.persist(ctx)
	p.log.Debug("response recorded",
		logx.String("category", string(cat)),
		logx.Bool("responded", responded),
		logx.Float64("rate", rate),
	)
	return nil
}

// UpdatePreferredTimeRanges learns from a session that happened at hour
// (local) and lasted sessionLength, then replans the routine week.
func (p *Planner) UpdatePreferredTimeRanges(ctx context.Context, hour int, sessionLength time.Duration) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidInput, hour)
	}
	if sessionLength < 0 {
		return fmt.Errorf("%w: negative session length", ErrInvalidInput)
	}
	p.mu.Lock()
	if i := p.ranges.find(hour); i >= 0 {
		p.ranges.bump(i, weightIncrement)
	} else {
		p.ranges.insert(TimeRange{StartHour: hour, EndHour: (hour + newRangeHours) % 24, Weight: newRangeWeight})
	}
	p.avgSession = time.Duration(float64(p.avgSession)*(1-sessionEMAWeight) + float64(sessionLength)*sessionEMAWeight)
	initialized := p.initialized
	p.mu.Unlock()

	p.persist(ctx)
	if initialized {
		p.rescheduleRoutine(ctx)
	}
	return nil
}

// Reset restores the default pattern, cancels everything scheduled in the
// engine and plans a fresh routine week.
func (p *Planner) Reset(ctx context.Context) {
	p.mu.Lock()
	p.resetPatternLocked(p.clock.Now())
	initialized := p.initialized
	if initialized && !p.closed {
		p.armWatchLocked(p.threshold)
	}
	p.mu.Unlock()

	p.persist(ctx)
	p.engine.CancelAllNotifications(ctx)
	if initialized {
		p.rescheduleRoutine(ctx)
	}
	p.log.Info("planner reset")
}

// ScheduleMilestone schedules a high-priority milestone notification. A
// zero at delivers now. It returns "" when the engine declines.
func (p *Planner) ScheduleMilestone(ctx context.Context, name, message string, at time.Time) (string, error) {
	return p.engine.ScheduleNotification(ctx, notify.Request{
		Category:     notify.CategoryMilestone,
		Title:        "Milestone: " + name,
		Body:         message,
		Priority:     notify.PriorityHigh,
		ScheduledFor: at,
		Data:         map[string]any{"source": SourceMilestone, "milestone_name": name},
	})
}

func (p *Planner) ScheduleInsight(ctx context.Context, title, message string, at time.Time) (string, error) {
	return p.engine.ScheduleNotification(ctx, notify.Request{
		Category:     notify.CategoryInsight,
		Title:        title,
		Body:         message,
		Priority:     notify.PriorityNormal,
		ScheduledFor: at,
		Data:         map[string]any{"source": SourceInsight},
	})
}

// Pattern returns a copy of the learned pattern.
func (p *Planner) Pattern() Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	rates := make(map[notify.Category]float64, len(p.rates))
	for k, v := range p.rates {
		rates[k] = v
	}
	return Pattern{
		LastActive:          p.lastActive,
		AvgSession:          p.avgSession,
		SessionsPerDay:      p.sessionsPerDay,
		Ranges:              p.ranges.slice(),
		InactivityThreshold: p.threshold,
		Responses:           p.responses.slice(),
		ResponseRates:       rates,
	}
}

// Consume records response events from the bus until ctx is done or the
// channel closes. A positive response also counts as user activity.
func (p *Planner) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != notify.TopicResponse {
				continue
			}
			data, ok := ev.Data.(notify.Event)
			if !ok {
				continue
			}
			if err := p.RecordNotificationResponse(ctx, data.Category, data.Responded); err != nil {
				p.log.Debug("response ignored", logx.String("id", data.ID), logx.Err(err))
				continue
			}
			if data.Responded {
				p.observeTap(ctx, ev.Time)
			}
		}
	}
}

// observeTap treats a button press as a short session: the user is
// active and the hour counts toward the preferred ranges. The session
// average is left as is.
func (p *Planner) observeTap(ctx context.Context, at time.Time) {
	if at.IsZero() {
		at = p.clock.Now()
	}
	p.RecordUserActivity(ctx)
	p.mu.Lock()
	avg := p.avgSession
	p.mu.Unlock()
	if err := p.UpdatePreferredTimeRanges(ctx, at.In(p.loc).Hour(), avg); err != nil {
		p.log.Debug("range update skipped", logx.Err(err))
	}
}

// Close stops the planner's timers. Entries already handed to the engine
// stay scheduled.
func (p *Planner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.watchGen++
	p.refreshGen++
	if p.watchTimer != nil {
		p.watchTimer.Stop()
		p.watchTimer = nil
	}
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	return nil
}
