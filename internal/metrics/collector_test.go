package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nudgebot/internal/eventbus"
	"nudgebot/internal/notify"
)

func TestObserveCountsOutcomes(t *testing.T) {
	c := New(Sources{})
	ins := string(notify.CategoryInsight)

	c.Observe(eventbus.Event{Type: notify.TopicDelivered, Data: notify.Event{Category: notify.CategoryInsight, Outcome: notify.OutcomeDelivered, Source: "routine"}})
	c.Observe(eventbus.Event{Type: notify.TopicRejected, Data: notify.Event{Category: notify.CategoryInsight, Outcome: notify.OutcomeRejectedQuota}})
	c.Observe(eventbus.Event{Type: notify.TopicFailed, Data: notify.Event{Category: notify.CategoryInsight, Outcome: notify.OutcomeFailed}})
	c.Observe(eventbus.Event{Type: notify.TopicCancelled, Data: notify.Event{Category: notify.CategoryInsight, Reason: "expired"}})
	c.Observe(eventbus.Event{Type: notify.TopicResponse, Data: notify.Event{Category: notify.CategoryInsight, Responded: true}})
	c.Observe(eventbus.Event{Type: "other", Data: "ignored"})

	require.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues(ins, "delivered", "routine")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues(ins, "rejected_quota", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues(ins)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.cancelled.WithLabelValues(ins, "expired")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.responses.WithLabelValues(ins, "true")))
}

func TestScrapeExposesSources(t *testing.T) {
	c := New(Sources{
		Counts:  func() map[notify.Category]int { return map[notify.Category]int{notify.CategoryReminder: 2} },
		Pending: func() int { return 4 },
		Dropped: func() uint64 { return 1 },
	})
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()

	require.Contains(t, body, `nudgebot_notifications_delivered_today{category="REMINDER"} 2`)
	require.Contains(t, body, `nudgebot_notifications_delivered_today{category="CHECK_IN"} 0`)
	require.Contains(t, body, "nudgebot_notifications_scheduled 4")
	require.Contains(t, body, "nudgebot_eventbus_dropped_total 1")
	require.True(t, strings.Contains(body, "go_goroutines"))
}

func TestRunConsumesBus(t *testing.T) {
	c := New(Sources{})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, notify.TopicPrefix)
	defer unsub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, ch)

	bus.Publish(eventbus.Event{Type: notify.TopicScheduled, Data: notify.Event{Category: notify.CategoryMilestone, Outcome: notify.OutcomeScheduled}})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.outcomes.WithLabelValues("MILESTONE", "scheduled", "")) == 1
	}, time.Second, 5*time.Millisecond)
}
