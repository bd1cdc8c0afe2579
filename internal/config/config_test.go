package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "nudgebot/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: file
  path: ./data/state.json
delivery:
  driver: telegram
  telegram:
    token: from-file
    chat_id: 42
engine:
  timezone: UTC
  persist_debounce: 2s
  defaults:
    quiet_hours_start: 23
    categories:
      REMINDER:
        max_per_day: 1
planner:
  enabled: true
  inactivity_threshold: 48h
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.lookupEnv = func(string) (string, bool) { return "", false }

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, int64(42), cfg.Delivery.Telegram.ChatID)
	require.NotNil(t, cfg.Engine.Defaults)
	require.Equal(t, 23, *cfg.Engine.Defaults.QuietHoursStart)
	require.Equal(t, 1, cfg.Engine.Defaults.Categories["REMINDER"].MaxPerDay)
	require.Same(t, cfg, m.Get())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	cases := map[string]string{
		"top level": `{"logging":{},"bogus":1}`,
		"category":  `{"engine":{"defaults":{"categories":{"REMINDER":{"max":1}}}}}`,
		"trailing":  `{"logging":{}} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, "config.json", body))
			_, err := m.Parse()
			require.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	env := map[string]string{
		EnvTelegramToken:  "from-env",
		EnvTelegramChatID: "7",
		EnvStoragePath:    "/tmp/x.json",
	}
	m.lookupEnv = func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Delivery.Telegram.Token)
	require.Equal(t, int64(7), cfg.Delivery.Telegram.ChatID)
	require.Equal(t, "/tmp/x.json", cfg.Storage.Path)

	env[EnvTelegramChatID] = "seven"
	_, err = m.Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	bad := 24
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{}, ""},
		{"file without path", Config{Storage: StorageConfig{Driver: "file"}}, "storage.path"},
		{"unknown storage", Config{Storage: StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"telegram without token", Config{Delivery: DeliveryConfig{Driver: "telegram"}}, "token"},
		{"bad timezone", Config{Engine: EngineConfig{Timezone: "Mars/Olympus"}}, "engine.timezone"},
		{"bad hour", Config{Engine: EngineConfig{Defaults: &EngineDefaults{QuietHoursEnd: &bad}}}, "quiet_hours_end"},
		{"bad max", Config{Engine: EngineConfig{Defaults: &EngineDefaults{
			Categories: map[string]CategoryLimit{"INSIGHT": {MaxPerDay: 11}},
		}}}, "max_per_day"},
		{"bad duration", Config{Planner: PlannerConfig{InactivityThreshold: "soon"}}, "planner.inactivity_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), "error %q should mention %q", err, tc.want)
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	a := &Config{Delivery: DeliveryConfig{Driver: "telegram", Telegram: TelegramConfig{Token: "secret-a"}}}
	b := &Config{Delivery: DeliveryConfig{Driver: "telegram", Telegram: TelegramConfig{Token: "secret-b"}}, Logging: LoggingConfig{Level: "warn"}}

	changed, attrs := SummarizeConfigChange(a, b)
	require.ElementsMatch(t, []string{"logging", "delivery"}, changed)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	require.Contains(t, buf.String(), "delivery.telegram.token_set")
	require.NotContains(t, buf.String(), "secret")
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Logging.Level == "debug"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}
