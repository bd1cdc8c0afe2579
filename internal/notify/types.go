package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nudgebot/internal/delivery"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidConfig   = errors.New("invalid config")
)

// Category is the kind of a notification. It keys quotas and config.
type Category string

const (
	CategoryReminder       Category = "REMINDER"
	CategoryEngagement     Category = "ENGAGEMENT"
	CategoryAchievement    Category = "ACHIEVEMENT"
	CategoryPersonalGrowth Category = "PERSONAL_GROWTH"
	CategoryMilestone      Category = "MILESTONE"
	CategoryInsight        Category = "INSIGHT"
	CategoryCheckIn        Category = "CHECK_IN"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryReminder,
	CategoryEngagement,
	CategoryAchievement,
	CategoryPersonalGrowth,
	CategoryMilestone,
	CategoryInsight,
	CategoryCheckIn,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory accepts the canonical upper-case name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type CategoryConfig struct {
	Enabled   bool `json:"enabled"`
	MaxPerDay int  `json:"max_per_day"`
}

// Config is the user-facing notification configuration.
type Config struct {
	EnableSound     bool                        `json:"enable_sound"`
	EnableVibration bool                        `json:"enable_vibration"`
	QuietHoursStart int                         `json:"quiet_hours_start"`
	QuietHoursEnd   int                         `json:"quiet_hours_end"`
	DaysEnabled     [7]bool                     `json:"days_enabled"` // index 0 is Sunday
	DefaultPriority Priority                    `json:"default_priority"`
	Categories      map[Category]CategoryConfig `json:"categories"`
}

const (
	MinPerDay = 1
	MaxPerDay = 10
)

func DefaultConfig() Config {
	return Config{
		EnableSound:     true,
		EnableVibration: true,
		QuietHoursStart: 22,
		QuietHoursEnd:   8,
		DaysEnabled:     [7]bool{true, true, true, true, true, true, true},
		DefaultPriority: PriorityNormal,
		Categories: map[Category]CategoryConfig{
			CategoryReminder:       {Enabled: true, MaxPerDay: 5},
			CategoryEngagement:     {Enabled: true, MaxPerDay: 3},
			CategoryAchievement:    {Enabled: true, MaxPerDay: 3},
			CategoryPersonalGrowth: {Enabled: true, MaxPerDay: 2},
			CategoryMilestone:      {Enabled: true, MaxPerDay: 2},
			CategoryInsight:        {Enabled: true, MaxPerDay: 3},
			CategoryCheckIn:        {Enabled: true, MaxPerDay: 2},
		},
	}
}

func (c Config) clone() Config {
	cp := c
	cp.Categories = make(map[Category]CategoryConfig, len(c.Categories))
	for k, v := range c.Categories {
		cp.Categories[k] = v
	}
	return cp
}

// withDefaults fills categories missing from a persisted or partial config.
func (c Config) withDefaults() Config {
	cp := c.clone()
	for k, v := range DefaultConfig().Categories {
		if _, ok := cp.Categories[k]; !ok {
			cp.Categories[k] = v
		}
	}
	if !cp.DefaultPriority.Valid() {
		cp.DefaultPriority = PriorityNormal
	}
	return cp
}

func (c Config) Validate() error {
	var errs []error
	if c.QuietHoursStart < 0 || c.QuietHoursStart > 23 {
		errs = append(errs, fmt.Errorf("quiet_hours_start %d out of range 0-23", c.QuietHoursStart))
	}
	if c.QuietHoursEnd < 0 || c.QuietHoursEnd > 23 {
		errs = append(errs, fmt.Errorf("quiet_hours_end %d out of range 0-23", c.QuietHoursEnd))
	}
	if !c.DefaultPriority.Valid() {
		errs = append(errs, fmt.Errorf("default_priority %q unknown", c.DefaultPriority))
	}
	for k, v := range c.Categories {
		if !k.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCategory, k))
			continue
		}
		if v.MaxPerDay < MinPerDay || v.MaxPerDay > MaxPerDay {
			errs = append(errs, fmt.Errorf("%s.max_per_day %d out of range %d-%d", k, v.MaxPerDay, MinPerDay, MaxPerDay))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ConfigPatch is a partial Config. Nil fields are left untouched; categories
// are merged per key.
type ConfigPatch struct {
	EnableSound     *bool
	EnableVibration *bool
	QuietHoursStart *int
	QuietHoursEnd   *int
	DaysEnabled     *[7]bool
	DefaultPriority *Priority
	Categories      map[Category]CategoryConfig
}

// Apply returns c with p merged in.
func (p ConfigPatch) Apply(c Config) Config {
	out := c.clone()
	if p.EnableSound != nil {
		out.EnableSound = *p.EnableSound
	}
	if p.EnableVibration != nil {
		out.EnableVibration = *p.EnableVibration
	}
	if p.QuietHoursStart != nil {
		out.QuietHoursStart = *p.QuietHoursStart
	}
	if p.QuietHoursEnd != nil {
		out.QuietHoursEnd = *p.QuietHoursEnd
	}
	if p.DaysEnabled != nil {
		out.DaysEnabled = *p.DaysEnabled
	}
	if p.DefaultPriority != nil {
		out.DefaultPriority = *p.DefaultPriority
	}
	for k, v := range p.Categories {
		out.Categories[k] = v
	}
	return out
}

// Outcome is the decision taken for a request.
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeScheduled          Outcome = "scheduled"
	OutcomeRejectedNotReady   Outcome = "rejected_not_ready"
	OutcomeRejectedQuietHours Outcome = "rejected_quiet_hours"
	OutcomeRejectedDisabled   Outcome = "rejected_disabled"
	OutcomeRejectedQuota      Outcome = "rejected_quota"
	OutcomeFailed             Outcome = "failed"
)

// Accepted reports whether the request was delivered or scheduled.
func (o Outcome) Accepted() bool { return o == OutcomeDelivered || o == OutcomeScheduled }

type Receipt struct {
	ID      string
	Outcome Outcome
}

// ScheduledEntry is a future-dated request held by the engine.
type ScheduledEntry struct {
	Request Request         `json:"request"`
	Handle  delivery.Handle `json:"handle"`
	At      time.Time       `json:"at"`
}

// Expired reports whether the entry's ExpireAfter is before now.
func (e ScheduledEntry) Expired(now time.Time) bool {
	return !e.Request.ExpireAfter.IsZero() && e.Request.ExpireAfter.Before(now)
}
