package config

import (
	"reflect"
	"strings"

	logx "nudgebot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
//
// Only logging is applied live; the other sections take effect on restart,
// which the caller reports.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.redis_password_set", newCfg.Storage.Redis.Password != ""),
		)
	}

	ot, nt := oldCfg.Delivery.Telegram, newCfg.Delivery.Telegram
	if oldCfg.Delivery.Driver != newCfg.Delivery.Driver ||
		ot.ChatID != nt.ChatID ||
		ot.RatePerSec != nt.RatePerSec ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.Token != nt.Token {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.driver", newCfg.Delivery.Driver),
			logx.Bool("delivery.telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("delivery.telegram.rate_per_sec", nt.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.timezone", newCfg.Engine.Timezone),
			logx.String("engine.reset_spec", newCfg.Engine.ResetSpec),
			logx.Bool("engine.defaults_set", newCfg.Engine.Defaults != nil),
		)
	}

	if oldCfg.Planner != newCfg.Planner {
		changed = append(changed, "planner")
		attrs = append(attrs,
			logx.Bool("planner.enabled", newCfg.Planner.Enabled),
			logx.String("planner.inactivity_threshold", newCfg.Planner.InactivityThreshold),
		)
	}

	// never log token
	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || (oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs
}
