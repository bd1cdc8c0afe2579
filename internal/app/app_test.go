package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"nudgebot/internal/config"
	"nudgebot/internal/delivery/deliverytest"
	"nudgebot/internal/engage"
	"nudgebot/internal/notify"
	"nudgebot/internal/storage"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func writeConfig(t *testing.T, body string) *config.ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	m := config.NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	return m
}

const testConfig = `
logging:
  level: error
storage:
  driver: memory
delivery:
  driver: console
engine:
  timezone: UTC
  defaults:
    categories:
      reminder: { max_per_day: 1 }
planner:
  enabled: true
  seed: 42
`

func TestAppLifecycle(t *testing.T) {
	cfgm := writeConfig(t, testConfig)
	clock := clockwork.NewFakeClockAt(t0)
	rec := deliverytest.New(clock)
	store := storage.NewMemory()

	a, err := New(cfgm, Options{Clock: clock, Delivery: rec, Store: store})
	require.NoError(t, err)
	require.NotNil(t, a.Planner())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	id, err := a.Engine().ScheduleReminder(ctx, "Drink water", "", time.Time{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	id, err = a.Engine().ScheduleReminder(ctx, "Again", "", time.Time{}, nil)
	require.NoError(t, err)
	require.Empty(t, id, "reminder quota from config defaults")

	routine := 0
	for _, s := range a.Engine().GetScheduledNotifications(ctx) {
		if s.Request.Source() == engage.SourceRoutine {
			routine++
		}
	}
	require.Equal(t, 7, routine)

	// a response from the delivery side reaches the planner through the bus
	rec.Respond(ctx, rec.Now()[0], true)
	require.Eventually(t, func() bool {
		return a.Planner().Pattern().ResponseRates[notify.CategoryReminder] == 1
	}, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	require.Positive(t, store.Writes())
}

func TestResponsePostponesInactivityNudge(t *testing.T) {
	cfgm := writeConfig(t, testConfig)
	clock := clockwork.NewFakeClockAt(t0)
	rec := deliverytest.New(clock)

	a, err := New(cfgm, Options{Clock: clock, Delivery: rec, Store: storage.NewMemory()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	nudges := func() int {
		n := 0
		for _, m := range rec.Now() {
			if m.Data["source"] == engage.SourceInactivity {
				n++
			}
		}
		return n
	}

	id, err := a.Engine().ScheduleReminder(ctx, "Stretch", "", time.Time{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	clock.Advance(48 * time.Hour)
	rec.Respond(ctx, rec.Now()[0], true)
	require.Eventually(t, func() bool {
		return a.Planner().Pattern().LastActive.Equal(t0.Add(48 * time.Hour))
	}, time.Second, 5*time.Millisecond)

	// three days after start, but only one since the tap
	clock.Advance(24 * time.Hour)
	require.Never(t, func() bool { return nudges() > 0 }, 200*time.Millisecond, 10*time.Millisecond)

	clock.Advance(48 * time.Hour)
	require.Eventually(t, func() bool { return nudges() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAppRejectsInvalidDefaults(t *testing.T) {
	cfgm := writeConfig(t, `
storage: { driver: memory }
delivery: { driver: console }
engine:
  reset_spec: "not a cron"
planner: { enabled: false }
`)
	_, err := New(cfgm, Options{})
	require.Error(t, err)
}

func TestMapEngineDefaults(t *testing.T) {
	off := false
	start := 21
	got, err := mapEngineDefaults(&config.EngineDefaults{
		QuietHoursStart: &start,
		DefaultPriority: "high",
		DaysEnabled:     []bool{false, true, true, true, true, true, false},
		Categories: map[string]config.CategoryLimit{
			"insight":  {MaxPerDay: 7},
			"CHECK_IN": {Enabled: &off},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 21, got.QuietHoursStart)
	require.Equal(t, 8, got.QuietHoursEnd)
	require.Equal(t, notify.PriorityHigh, got.DefaultPriority)
	require.False(t, got.DaysEnabled[0])
	require.Equal(t, 7, got.Categories[notify.CategoryInsight].MaxPerDay)
	require.False(t, got.Categories[notify.CategoryCheckIn].Enabled)
	require.Equal(t, 2, got.Categories[notify.CategoryCheckIn].MaxPerDay)

	_, err = mapEngineDefaults(&config.EngineDefaults{Categories: map[string]config.CategoryLimit{"bogus": {}}})
	require.ErrorIs(t, err, notify.ErrUnknownCategory)

	got, err = mapEngineDefaults(nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name   string
		in     config.StorageConfig
		driver string
		err    bool
	}{
		{name: "empty is memory", in: config.StorageConfig{}, driver: "memory"},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, driver: "sqlite"},
		{name: "bad busy timeout", in: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, err: true},
		{name: "redis", in: config.StorageConfig{Driver: "redis", Redis: config.RedisConfig{Addr: "localhost:6379"}}, driver: "redis"},
		{name: "unknown", in: config.StorageConfig{Driver: "etcd"}, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.driver, sc.Driver)
		})
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.Set(ctx, notify.KeyConfig, []byte(`{"quiet_hours_start":22}`)))
	require.NoError(t, st.Set(ctx, engage.KeyActivity, []byte("garbage")))

	out, err := Inspect(ctx, st)
	require.NoError(t, err)
	require.Len(t, out, len(PersistedKeys))
	require.JSONEq(t, `{"quiet_hours_start":22}`, string(out[notify.KeyConfig]))
	require.Nil(t, out[notify.KeyCounters])

	var s string
	require.NoError(t, json.Unmarshal(out[engage.KeyActivity], &s))
	require.Equal(t, "garbage", s)
}
