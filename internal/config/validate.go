package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the parts of the config that can be checked without
// building components. Category names and the reset spec are checked by the
// engine when the config is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Delivery.Driver)) {
	case "", "console":
	case "telegram":
		if strings.TrimSpace(cfg.Delivery.Telegram.Token) == "" {
			errs = append(errs, errors.New("delivery.telegram.token is required"))
		}
		if cfg.Delivery.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("delivery.telegram.chat_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery.driver: unknown driver %q", cfg.Delivery.Driver))
	}
	if _, err := ParseDurationField("delivery.telegram.poll_timeout", cfg.Delivery.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
		}
	}
	if _, err := ParseDurationField("engine.persist_debounce", cfg.Engine.PersistDebounce); err != nil {
		errs = append(errs, err)
	}
	if d := cfg.Engine.Defaults; d != nil {
		if d.QuietHoursStart != nil && (*d.QuietHoursStart < 0 || *d.QuietHoursStart > 23) {
			errs = append(errs, fmt.Errorf("engine.defaults.quiet_hours_start: %d out of range 0-23", *d.QuietHoursStart))
		}
		if d.QuietHoursEnd != nil && (*d.QuietHoursEnd < 0 || *d.QuietHoursEnd > 23) {
			errs = append(errs, fmt.Errorf("engine.defaults.quiet_hours_end: %d out of range 0-23", *d.QuietHoursEnd))
		}
		if len(d.DaysEnabled) != 0 && len(d.DaysEnabled) != 7 {
			errs = append(errs, fmt.Errorf("engine.defaults.days_enabled: want 7 entries, got %d", len(d.DaysEnabled)))
		}
		for name, c := range d.Categories {
			if c.MaxPerDay != 0 && (c.MaxPerDay < 1 || c.MaxPerDay > 10) {
				errs = append(errs, fmt.Errorf("engine.defaults.categories.%s.max_per_day: %d out of range 1-10", name, c.MaxPerDay))
			}
		}
	}

	if _, err := ParseDurationField("planner.inactivity_threshold", cfg.Planner.InactivityThreshold); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ops.read_timeout", cfg.Ops.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ops.idle_timeout", cfg.Ops.IdleTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
