package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Delivery DeliveryConfig `json:"delivery"`
	Engine   EngineConfig   `json:"engine"`
	Planner  PlannerConfig  `json:"planner"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/nudgebot.json" }
type StorageConfig struct {
	Driver       string      `json:"driver"`
	Path         string      `json:"path,omitempty"`
	BusyTimeout  string      `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactEvery int         `json:"compact_every,omitempty"`
	Redis        RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// DeliveryConfig selects the delivery driver ("console" or "telegram").
type DeliveryConfig struct {
	Driver   string         `json:"driver"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// EngineConfig controls the delivery and quota engine.
//
// Defaults seed the engine configuration only when nothing is persisted yet;
// after that the persisted record wins.
type EngineConfig struct {
	Timezone        string          `json:"timezone,omitempty"`
	ResetSpec       string          `json:"reset_spec,omitempty"`       // cron spec, default "@midnight"
	PersistDebounce string          `json:"persist_debounce,omitempty"` // Go duration string, default "1s"
	Defaults        *EngineDefaults `json:"defaults,omitempty"`
}

type EngineDefaults struct {
	QuietHoursStart *int                     `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *int                     `json:"quiet_hours_end,omitempty"`
	EnableSound     *bool                    `json:"enable_sound,omitempty"`
	EnableVibration *bool                    `json:"enable_vibration,omitempty"`
	DaysEnabled     []bool                   `json:"days_enabled,omitempty"`
	DefaultPriority string                   `json:"default_priority,omitempty"`
	Categories      map[string]CategoryLimit `json:"categories,omitempty"`
}

type CategoryLimit struct {
	Enabled   *bool `json:"enabled,omitempty"`
	MaxPerDay int   `json:"max_per_day,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in category names are
// caught during reload.
func (c *CategoryLimit) UnmarshalJSON(b []byte) error {
	type tmp CategoryLimit
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = CategoryLimit(t)
	return nil
}

type PlannerConfig struct {
	Enabled bool `json:"enabled"`
	// InactivityThreshold is a Go duration string; default "72h".
	InactivityThreshold string `json:"inactivity_threshold,omitempty"`
	// CatalogPath optionally points at a YAML message catalog.
	CatalogPath string `json:"catalog_path,omitempty"`
	// Seed fixes the planner RNG; 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
}

// OpsConfig controls the optional metrics/health/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof/
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
