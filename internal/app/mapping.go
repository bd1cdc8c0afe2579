package app

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"nudgebot/internal/config"
	"nudgebot/internal/delivery/telegram"
	"nudgebot/internal/engage"
	"nudgebot/internal/notify"
	"nudgebot/internal/observability/ops"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "redis":
		return storage.Config{Driver: driver, Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		}}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Delivery.Telegram
	poll, err := config.ParseDurationOrDefault("delivery.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: tc.Token, ChatID: tc.ChatID, PollTimeout: poll, RatePerSec: tc.RatePerSec}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Engine.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

func mapEngineOptions(cfg *config.Config) (notify.Options, error) {
	loc, err := mapLocation(cfg)
	if err != nil {
		return notify.Options{}, err
	}
	if _, err := notify.ParseResetSpec(cfg.Engine.ResetSpec); err != nil {
		return notify.Options{}, fmt.Errorf("engine.reset_spec: %w", err)
	}
	debounce, err := config.ParseDurationOrDefault("engine.persist_debounce", cfg.Engine.PersistDebounce, notify.DefaultPersistDebounce)
	if err != nil {
		return notify.Options{}, err
	}
	defaults, err := mapEngineDefaults(cfg.Engine.Defaults)
	if err != nil {
		return notify.Options{}, err
	}
	return notify.Options{
		Location:        loc,
		ResetSpec:       cfg.Engine.ResetSpec,
		PersistDebounce: debounce,
		Defaults:        defaults,
	}, nil
}

// mapEngineDefaults lays the configured defaults over notify.DefaultConfig.
func mapEngineDefaults(d *config.EngineDefaults) (*notify.Config, error) {
	if d == nil {
		return nil, nil
	}
	out := notify.DefaultConfig()
	if d.QuietHoursStart != nil {
		out.QuietHoursStart = *d.QuietHoursStart
	}
	if d.QuietHoursEnd != nil {
		out.QuietHoursEnd = *d.QuietHoursEnd
	}
	if d.EnableSound != nil {
		out.EnableSound = *d.EnableSound
	}
	if d.EnableVibration != nil {
		out.EnableVibration = *d.EnableVibration
	}
	if len(d.DaysEnabled) == 7 {
		copy(out.DaysEnabled[:], d.DaysEnabled)
	} else if len(d.DaysEnabled) != 0 {
		return nil, fmt.Errorf("engine.defaults.days_enabled: want 7 entries, got %d", len(d.DaysEnabled))
	}
	if p := strings.TrimSpace(d.DefaultPriority); p != "" {
		out.DefaultPriority = notify.Priority(strings.ToUpper(p))
	}
	for name, lim := range d.Categories {
		cat, err := notify.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("engine.defaults.categories: %w", err)
		}
		cc := out.Categories[cat]
		if lim.Enabled != nil {
			cc.Enabled = *lim.Enabled
		}
		if lim.MaxPerDay != 0 {
			cc.MaxPerDay = lim.MaxPerDay
		}
		out.Categories[cat] = cc
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("engine.defaults: %w", err)
	}
	return &out, nil
}

func mapPlannerOptions(cfg *config.Config) (engage.Options, error) {
	loc, err := mapLocation(cfg)
	if err != nil {
		return engage.Options{}, err
	}
	th, err := config.ParseDurationOrDefault("planner.inactivity_threshold", cfg.Planner.InactivityThreshold, engage.DefaultInactivityThreshold)
	if err != nil {
		return engage.Options{}, err
	}
	opts := engage.Options{Location: loc, InactivityThreshold: th}
	if p := strings.TrimSpace(cfg.Planner.CatalogPath); p != "" {
		cat, err := engage.LoadCatalog(p)
		if err != nil {
			return engage.Options{}, fmt.Errorf("planner.catalog_path: %w", err)
		}
		opts.Catalog = cat
	}
	if cfg.Planner.Seed != 0 {
		opts.Rand = rand.New(rand.NewSource(cfg.Planner.Seed))
	}
	return opts, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		// pprof profile/trace stream for up to 30s by default
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  idle,
	}, nil
}

// validate runs every mapping so a bad hot-reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Delivery.Driver), "telegram") {
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
	}
	if _, err := mapEngineOptions(cfg); err != nil {
		return err
	}
	if _, err := mapPlannerOptions(cfg); err != nil {
		return err
	}
	_, err := mapOpsConfig(cfg)
	return err
}
