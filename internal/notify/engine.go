package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"nudgebot/internal/delivery"
	"nudgebot/internal/eventbus"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

const DefaultPersistDebounce = time.Second

type Options struct {
	Clock    clockwork.Clock
	Location *time.Location // default time.Local
	// ResetSpec is the cron expression starting a new quota day.
	ResetSpec string
	// PersistDebounce is the trailing-edge window for config writes.
	PersistDebounce time.Duration
	// Defaults seeds the config when nothing is persisted.
	Defaults *Config
}

// Engine owns the notification config, the per-category daily counters and
// the catalog of future-dated notifications. It is the only component that
// talks to the delivery subsystem.
type Engine struct {
	delivery delivery.Subsystem
	store    storage.Store
	log      logx.Logger
	bus      eventbus.Bus

	clock      clockwork.Clock
	loc        *time.Location
	resetSched cron.Schedule
	defaults   Config
	cfgSaver   *debouncer

	initMu sync.Mutex
	pmu    sync.Mutex

	mu          sync.Mutex
	initialized bool
	granted     bool
	closed      bool
	cfgTouched  bool
	cfg         Config
	counts      map[Category]int
	day         string
	scheduled   map[string]*ScheduledEntry
	inflight    map[string]Category // admitted timed deliveries awaiting their outcome
	nextReset   time.Time
	resetGen    uint64
	resetTimer  clockwork.Timer
}

func New(sub delivery.Subsystem, st storage.Store, opts Options, log logx.Logger, bus eventbus.Bus) (*Engine, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: delivery subsystem is required", ErrInvalidConfig)
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
	sched, err := ParseResetSpec(opts.ResetSpec)
	if err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if opts.Defaults != nil {
		defaults = opts.Defaults.withDefaults()
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	window := opts.PersistDebounce
	if window <= 0 {
		window = DefaultPersistDebounce
	}

	e := &Engine{
		delivery:   sub,
		store:      st,
		log:        log,
		bus:        bus,
		clock:      clock,
		loc:        loc,
		resetSched: sched,
		defaults:   defaults,
		cfg:        defaults.clone(),
		counts:     map[Category]int{},
		scheduled:  map[string]*ScheduledEntry{},
		inflight:   map[string]Category{},
	}
	e.cfgSaver = newDebouncer(clock, window, func() { e.persistConfig(context.Background()) })
	return e, nil
}

// Initialize loads persisted state, installs the engine as the delivery
// handler, asks for permission, arms the daily reset and re-arms persisted
// entries. It reports whether permission was granted. Calling it again
// returns the first result.
func (e *Engine) Initialize(ctx context.Context) bool {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	if e.initialized {
		g := e.granted
		e.mu.Unlock()
		return g
	}
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	now := e.clock.Now()
	cfg := e.loadConfig(ctx, e.defaults)
	counts := e.loadCounters(ctx, now)
	entries := e.loadScheduled(ctx)

	e.delivery.SetHandler(e)
	granted := e.delivery.RequestPermission(ctx)

	var expired []ScheduledEntry
	e.mu.Lock()
	if !e.cfgTouched {
		e.cfg = cfg
	}
	e.counts = counts
	e.day = e.dayKey(now)
	e.armResetLocked(now)
	for _, s := range entries {
		if s.Expired(now) {
			expired = append(expired, s)
			continue
		}
		entry := s
		h, err := e.delivery.DeliverAt(ctx, entry.Request.message(e.cfg), entry.At)
		if err != nil {
			e.log.Warn("re-arm scheduled notification failed", logx.String("id", entry.Request.ID), logx.Err(err))
			continue
		}
		entry.Handle = h
		e.scheduled[entry.Request.ID] = &entry
	}
	e.initialized = true
	e.granted = granted
	armed := len(e.scheduled)
	e.mu.Unlock()

	e.persistScheduled(ctx)
	e.persistCounters(ctx)
	for _, s := range expired {
		e.publish(TopicCancelled, Event{ID: s.Request.ID, Category: s.Request.Category, Source: s.Request.Source(), Reason: "expired"})
	}

	e.log.Info("engine initialized",
		logx.Bool("permission", granted),
		logx.Int("scheduled", armed),
		logx.Int("expired", len(expired)),
		logx.String("day", e.dayKey(now)),
	)
	return granted
}

// ScheduleNotification delivers or schedules req and returns its id. A
// policy rejection returns "" and a nil error; a malformed request returns
// an error.
func (e *Engine) ScheduleNotification(ctx context.Context, req Request) (string, error) {
	r, err := e.Schedule(ctx, req)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// Schedule is ScheduleNotification with the decision spelled out.
func (e *Engine) Schedule(ctx context.Context, req Request) (Receipt, error) {
	if err := req.validate(); err != nil {
		return Receipt{}, err
	}

	e.mu.Lock()
	if !e.initialized || !e.granted || e.closed {
		e.mu.Unlock()
		e.reject(req, OutcomeRejectedNotReady)
		return Receipt{Outcome: OutcomeRejectedNotReady}, nil
	}
	now := e.clock.Now()
	rolled := e.rollLocked(now)
	cfg := e.cfg
	req = req.normalized(cfg)
	if _, dup := e.scheduled[req.ID]; dup {
		e.mu.Unlock()
		return Receipt{}, fmt.Errorf("%w: id %q already scheduled", ErrInvalidRequest, req.ID)
	}
	if outcome := e.gateLocked(req.Category, now); outcome != "" {
		e.mu.Unlock()
		if rolled {
			e.persistCounters(ctx)
		}
		e.reject(req, outcome)
		return Receipt{Outcome: outcome}, nil
	}

	msg := req.message(cfg)
	if req.ScheduledFor.After(now) {
		// DeliverAt must not block, so it is safe under mu.
		h, err := e.delivery.DeliverAt(ctx, msg, req.ScheduledFor)
		if err != nil {
			e.mu.Unlock()
			e.fail(req, err)
			return Receipt{Outcome: OutcomeFailed}, nil
		}
		e.scheduled[req.ID] = &ScheduledEntry{Request: req, Handle: h, At: req.ScheduledFor}
		e.mu.Unlock()

		e.persistScheduled(ctx)
		if rolled {
			e.persistCounters(ctx)
		}
		e.publish(TopicScheduled, Event{ID: req.ID, Category: req.Category, Outcome: OutcomeScheduled, Source: req.Source()})
		e.log.Debug("notification scheduled",
			logx.String("id", req.ID),
			logx.String("category", string(req.Category)),
			logx.Time("at", req.ScheduledFor),
		)
		return Receipt{ID: req.ID, Outcome: OutcomeScheduled}, nil
	}

	// Reserve the slot before sending so concurrent callers can't overshoot.
	e.counts[req.Category]++
	e.mu.Unlock()

	if _, err := e.delivery.DeliverNow(ctx, msg); err != nil {
		e.mu.Lock()
		e.releaseLocked(req.Category)
		e.mu.Unlock()
		e.fail(req, err)
		return Receipt{Outcome: OutcomeFailed}, nil
	}
	e.persistCounters(ctx)
	e.publish(TopicDelivered, Event{ID: req.ID, Category: req.Category, Outcome: OutcomeDelivered, Source: req.Source()})
	e.log.Debug("notification delivered", logx.String("id", req.ID), logx.String("category", string(req.Category)))
	return Receipt{ID: req.ID, Outcome: OutcomeDelivered}, nil
}

// gateLocked returns the rejection outcome for sending cat at now, or "".
func (e *Engine) gateLocked(cat Category, now time.Time) Outcome {
	if InQuietHours(e.cfg, now.In(e.loc)) {
		return OutcomeRejectedQuietHours
	}
	cc, ok := e.cfg.Categories[cat]
	if !ok || !cc.Enabled {
		return OutcomeRejectedDisabled
	}
	if e.counts[cat] >= cc.MaxPerDay {
		return OutcomeRejectedQuota
	}
	return ""
}

func (e *Engine) releaseLocked(cat Category) {
	if e.counts[cat] > 0 {
		e.counts[cat]--
	}
}

func (e *Engine) reject(req Request, outcome Outcome) {
	e.log.Debug("notification rejected",
		logx.String("category", string(req.Category)),
		logx.String("outcome", string(outcome)),
		logx.String("source", req.Source()),
	)
	e.publish(TopicRejected, Event{ID: req.ID, Category: req.Category, Outcome: outcome, Source: req.Source()})
}

func (e *Engine) fail(req Request, err error) {
	e.log.Warn("notification delivery failed",
		logx.String("id", req.ID),
		logx.String("category", string(req.Category)),
		logx.Err(err),
	)
	e.publish(TopicFailed, Event{ID: req.ID, Category: req.Category, Outcome: OutcomeFailed, Source: req.Source(), Reason: err.Error()})
}

// CancelNotification cancels a scheduled notification. It reports false
// when id is not (or no longer) scheduled.
func (e *Engine) CancelNotification(ctx context.Context, id string) bool {
	e.mu.Lock()
	entry, ok := e.scheduled[id]
	if ok {
		delete(e.scheduled, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	e.delivery.Cancel(ctx, entry.Handle)
	e.persistScheduled(ctx)
	e.publish(TopicCancelled, Event{ID: id, Category: entry.Request.Category, Source: entry.Request.Source(), Reason: "cancelled"})
	return true
}

// CancelAllNotifications cancels every scheduled notification.
func (e *Engine) CancelAllNotifications(ctx context.Context) {
	e.mu.Lock()
	old := e.scheduled
	e.scheduled = map[string]*ScheduledEntry{}
	e.mu.Unlock()

	e.delivery.CancelAll(ctx)
	e.persistScheduled(ctx)
	for id, s := range old {
		e.publish(TopicCancelled, Event{ID: id, Category: s.Request.Category, Source: s.Request.Source(), Reason: "cancelled"})
	}
	e.log.Debug("all notifications cancelled", logx.Int("count", len(old)))
}

// UpdateConfig merges patch into the config. The write to the store is
// debounced.
func (e *Engine) UpdateConfig(patch ConfigPatch) error {
	e.mu.Lock()
	next := patch.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.cfg = next
	e.cfgTouched = true
	e.mu.Unlock()

	e.cfgSaver.Trigger()
	return nil
}

func (e *Engine) GetConfig() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// GetScheduledNotifications returns the pending entries sorted by time.
// Expired entries are dropped first.
func (e *Engine) GetScheduledNotifications(ctx context.Context) []ScheduledEntry {
	now := e.clock.Now()
	e.mu.Lock()
	var expired []*ScheduledEntry
	for id, s := range e.scheduled {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(e.scheduled, id)
		}
	}
	list := e.scheduledListLocked()
	e.mu.Unlock()

	if len(expired) > 0 {
		for _, s := range expired {
			e.delivery.Cancel(ctx, s.Handle)
			e.publish(TopicCancelled, Event{ID: s.Request.ID, Category: s.Request.Category, Source: s.Request.Source(), Reason: "expired"})
		}
		e.persistScheduled(ctx)
	}
	return list
}

// Counts returns today's per-category delivery counts.
func (e *Engine) Counts() map[Category]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.nextReset.IsZero() && !e.clock.Now().Before(e.nextReset) {
		// reset is due; the timer (or the next send) will clear the counters
		return map[Category]int{}
	}
	return copyCounts(e.counts)
}

// Close stops the reset timer and flushes a pending config write. Scheduled
// entries stay persisted and are re-armed by the next Initialize.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
	e.mu.Unlock()

	e.cfgSaver.Flush()
	return nil
}

// NextOpen reports when quiet hours next allow a send, starting from t. See
// NextOpenTime.
func (e *Engine) NextOpen(t time.Time) time.Time {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	return NextOpenTime(cfg, t.In(e.loc))
}

// Admit implements delivery.Handler. It runs right before a timed delivery
// is sent and applies the same gates as an immediate send, reserving a
// quota slot on success.
func (e *Engine) Admit(ctx context.Context, msg delivery.Message) bool {
	now := e.clock.Now()
	e.mu.Lock()
	entry, ok := e.scheduled[msg.ID]
	if !ok || e.closed {
		e.mu.Unlock()
		return false
	}
	if !e.granted {
		delete(e.scheduled, msg.ID)
		e.mu.Unlock()
		e.persistScheduled(ctx)
		e.reject(entry.Request, OutcomeRejectedNotReady)
		return false
	}
	rolled := e.rollLocked(now)
	if entry.Expired(now) {
		delete(e.scheduled, msg.ID)
		e.mu.Unlock()
		e.persistScheduled(ctx)
		e.publish(TopicCancelled, Event{ID: msg.ID, Category: entry.Request.Category, Source: entry.Request.Source(), Reason: "expired"})
		return false
	}
	cat := entry.Request.Category
	if outcome := e.gateLocked(cat, now); outcome != "" {
		delete(e.scheduled, msg.ID)
		e.mu.Unlock()
		e.persistScheduled(ctx)
		if rolled {
			e.persistCounters(ctx)
		}
		e.reject(entry.Request, outcome)
		return false
	}
	e.counts[cat]++
	e.inflight[msg.ID] = cat
	e.mu.Unlock()
	return true
}

// HandleEvent implements delivery.Handler.
func (e *Engine) HandleEvent(ctx context.Context, ev delivery.Event) {
	switch ev.Kind {
	case delivery.EventDelivered:
		e.mu.Lock()
		delete(e.inflight, ev.ID)
		entry, ok := e.scheduled[ev.ID]
		delete(e.scheduled, ev.ID)
		e.mu.Unlock()

		e.persistCounters(ctx)
		if ok {
			e.persistScheduled(ctx)
		}
		e.publish(TopicDelivered, Event{ID: ev.ID, Category: Category(ev.Category), Outcome: OutcomeDelivered, Source: sourceOf(entry)})

	case delivery.EventFailed:
		e.mu.Lock()
		if cat, ok := e.inflight[ev.ID]; ok {
			e.releaseLocked(cat)
			delete(e.inflight, ev.ID)
		}
		entry, ok := e.scheduled[ev.ID]
		delete(e.scheduled, ev.ID)
		e.mu.Unlock()

		e.persistCounters(ctx)
		if ok {
			e.persistScheduled(ctx)
		}
		reason := "delivery failed"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		e.log.Warn("timed delivery failed", logx.String("id", ev.ID), logx.String("reason", reason))
		e.publish(TopicFailed, Event{ID: ev.ID, Category: Category(ev.Category), Outcome: OutcomeFailed, Source: sourceOf(entry), Reason: reason})

	case delivery.EventResponse:
		e.publish(TopicResponse, Event{
			ID:        ev.ID,
			Category:  Category(ev.Category),
			Responded: ev.Responded,
			ActionID:  ev.ActionID,
		})
	}
}

func sourceOf(s *ScheduledEntry) string {
	if s == nil {
		return ""
	}
	return s.Request.Source()
}

var _ delivery.Handler = (*Engine)(nil)
