package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	logx "nudgebot/pkg/logx"
)

type recHandler struct {
	mu     sync.Mutex
	admit  bool
	events []Event
}

func (h *recHandler) Admit(context.Context, Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.admit
}

func (h *recHandler) HandleEvent(_ context.Context, ev Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func TestTimersFireAndReport(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var (
		mu   sync.Mutex
		sent []string
	)
	send := func(_ context.Context, m Message) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, m.ID)
		if m.ID == "bad" {
			return errors.New("boom")
		}
		return nil
	}
	tm := NewTimers(clock, "t", send, logx.Nop())
	h := &recHandler{admit: true}
	tm.SetHandler(h)

	tm.Schedule(Message{ID: "ok", Category: "INSIGHT"}, clock.Now().Add(time.Minute))
	tm.Schedule(Message{ID: "bad"}, clock.Now().Add(time.Minute))
	require.Equal(t, 2, tm.Pending())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(h.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Zero(t, tm.Pending())

	kinds := map[string]EventKind{}
	for _, ev := range h.snapshot() {
		kinds[ev.ID] = ev.Kind
	}
	require.Equal(t, EventDelivered, kinds["ok"])
	require.Equal(t, EventFailed, kinds["bad"])
}

func TestTimersCancelAndAdmit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var (
		mu    sync.Mutex
		count int
	)
	send := func(context.Context, Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}
	tm := NewTimers(clock, "t", send, logx.Nop())
	h := &recHandler{admit: false}
	tm.SetHandler(h)

	cancelled := tm.Schedule(Message{ID: "a"}, clock.Now().Add(time.Hour))
	tm.Schedule(Message{ID: "b"}, clock.Now().Add(time.Hour))
	tm.Cancel(cancelled)
	tm.Cancel(cancelled)
	require.Equal(t, 1, tm.Pending())

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return tm.Pending() == 0 }, time.Second, 5*time.Millisecond)
	// settle: the admitted-check runs after the pending entry is removed
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, count, "nothing admitted, nothing sent")
	require.Empty(t, h.snapshot())
}

func TestTimersHandlesAreUnique(t *testing.T) {
	tm := NewTimers(clockwork.NewFakeClock(), "t", func(context.Context, Message) error { return nil }, logx.Nop())
	a := tm.NewHandle(Message{ID: "x"})
	b := tm.NewHandle(Message{ID: "x"})
	require.NotEqual(t, a, b)
}

func TestConsoleDeliverNow(t *testing.T) {
	c := NewConsole(clockwork.NewFakeClock(), logx.Nop())
	require.True(t, c.RequestPermission(context.Background()))
	h, err := c.DeliverNow(context.Background(), Message{ID: "1", Title: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, h)
	require.Equal(t, uint64(1), c.Sent())
}
