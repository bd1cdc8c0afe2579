package app

import (
	"context"
	"encoding/json"

	"nudgebot/internal/config"
	"nudgebot/internal/engage"
	"nudgebot/internal/notify"
	"nudgebot/internal/storage"
	logx "nudgebot/pkg/logx"
)

// PersistedKeys lists every record the engine and planner write.
var PersistedKeys = []string{
	notify.KeyConfig,
	notify.KeyCounters,
	notify.KeyScheduled,
	engage.KeyActivity,
}

// OpenStore opens the configured store without building the rest of the app.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

// Inspect returns the persisted records keyed by name. Absent records are
// nil; records that are not valid JSON are returned as JSON strings.
func Inspect(ctx context.Context, st storage.Store) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(PersistedKeys))
	for _, k := range PersistedKeys {
		b, ok, err := st.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			out[k] = nil
		case json.Valid(b):
			out[k] = json.RawMessage(b)
		default:
			s, _ := json.Marshal(string(b))
			out[k] = s
		}
	}
	return out, nil
}
