// Package app wires configuration, storage, delivery, the notification
// engine, the engagement planner and the ops server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"nudgebot/internal/config"
	"nudgebot/internal/delivery"
	"nudgebot/internal/delivery/telegram"
	"nudgebot/internal/engage"
	"nudgebot/internal/eventbus"
	"nudgebot/internal/metrics"
	"nudgebot/internal/notify"
	"nudgebot/internal/observability/ops"
	rtsup "nudgebot/internal/runtime/supervisor"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

// Options override collaborators normally built from the config.
type Options struct {
	Clock    clockwork.Clock
	Delivery delivery.Subsystem
	Store    storage.Store
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	delivery delivery.Subsystem
	tg       *telegram.Driver

	engine  *notify.Engine
	planner *engage.Planner
	metrics *metrics.Collector
	ops     *ops.Service
}

func New(cfgm *config.ConfigManager, opts Options) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	bus := eventbus.New()

	store := opts.Store
	if store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		log.Info("storage opened", logx.String("driver", sc.Driver))
	}

	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: bus, store: store}

	sub := opts.Delivery
	if sub == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Delivery.Driver)) {
		case "telegram":
			tc, err := mapTelegramConfig(cfg)
			if err != nil {
				return nil, a.abort(err)
			}
			tg, err := telegram.New(tc, clock, log.With(logx.String("comp", "telegram")))
			if err != nil {
				return nil, a.abort(err)
			}
			a.tg = tg
			sub = tg
		default:
			sub = delivery.NewConsole(clock, log.With(logx.String("comp", "console")))
		}
	}
	a.delivery = sub

	eopts, err := mapEngineOptions(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	eopts.Clock = clock
	eng, err := notify.New(sub, store, eopts, log.With(logx.String("comp", "engine")), bus)
	if err != nil {
		return nil, a.abort(err)
	}
	a.engine = eng

	if cfg.Planner.Enabled {
		popts, err := mapPlannerOptions(cfg)
		if err != nil {
			return nil, a.abort(err)
		}
		popts.Clock = clock
		p, err := engage.New(eng, store, popts, log.With(logx.String("comp", "planner")))
		if err != nil {
			return nil, a.abort(err)
		}
		a.planner = p
	}

	a.metrics = metrics.New(metrics.Sources{
		Counts:  eng.Counts,
		Pending: func() int { return len(eng.GetScheduledNotifications(context.Background())) },
		Dropped: bus.Dropped,
	})
	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.ops = ops.New(ocfg, a.metrics.Handler(), a.health, log.With(logx.String("comp", "ops")))
	return a, nil
}

// abort releases what New opened so far.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return err
}

func (a *App) Engine() *notify.Engine { return a.engine }

// Planner is nil when planner.enabled is false.
func (a *App) Planner() *engage.Planner { return a.planner }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if a.tg != nil {
		a.sup.Go("telegram.poll", a.tg.Run)
	}

	// Consumers subscribe before Initialize so no startup event is missed.
	if a.planner != nil {
		events, unsub := a.bus.Subscribe(64, notify.TopicResponse)
		a.sup.Go0("planner.responses", func(c context.Context) {
			defer unsub()
			a.planner.Consume(c, events)
		})
	}
	mevents, munsub := a.bus.Subscribe(256, notify.TopicPrefix)
	a.sup.Go0("metrics.collect", func(c context.Context) {
		defer munsub()
		a.metrics.Run(c, mevents)
	})
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	var granted bool
	if a.planner != nil {
		granted = a.planner.Initialize(ctx)
	} else {
		granted = a.engine.Initialize(ctx)
	}
	if !granted {
		a.log.Warn("delivery permission not granted; notifications will be rejected")
	}

	a.ops.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	if strings.TrimSpace(a.cfgm.Path()) != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.notifyReady()
	a.log.Info("app started", logx.Bool("permission", granted), logx.Bool("planner", a.planner != nil))
	return nil
}

// applyConfig applies the parts of a reloaded config that can change live:
// logging and the ops server. Everything else needs a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLoggingConfig(next))

	if ocfg, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, ocfg)
	}

	var restart []string
	for _, s := range sections {
		switch s {
		case "logging", "ops":
		default:
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()
	a.sup.Cancel()

	// step bounds each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("planner", time.Second, func(context.Context) error {
		if a.planner != nil {
			return a.planner.Close()
		}
		return nil
	})
	step("engine", 2*time.Second, func(context.Context) error { return a.engine.Close() })
	// Pending timers are dropped; the engine re-arms them from storage on the next start.
	step("delivery", time.Second, func(c context.Context) error { a.delivery.CancelAll(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
