package delivery

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "nudgebot/pkg/logx"
)

// SendFunc performs the actual delivery of a message.
type SendFunc func(ctx context.Context, msg Message) error

// Timers arms DeliverAt messages on a clock and runs the admit/send/report
// sequence when they fire. Drivers embed it to share timed delivery.
type Timers struct {
	clock  clockwork.Clock
	log    logx.Logger
	send   SendFunc
	prefix string

	mu      sync.Mutex
	handler Handler
	seq     uint64
	pending map[Handle]clockwork.Timer
}

func NewTimers(clock clockwork.Clock, prefix string, send SendFunc, log logx.Logger) *Timers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Timers{
		clock:   clock,
		log:     log,
		send:    send,
		prefix:  prefix,
		pending: map[Handle]clockwork.Timer{},
	}
}

func (t *Timers) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Handler returns the installed handler, or nil.
func (t *Timers) Handler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// NewHandle returns a fresh handle for msg.
func (t *Timers) NewHandle(msg Message) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newHandleLocked(msg)
}

func (t *Timers) newHandleLocked(msg Message) Handle {
	t.seq++
	return Handle(t.prefix + "-" + strconv.FormatUint(t.seq, 10) + "-" + msg.ID)
}

// Schedule arms msg for at. A time in the past fires on the next tick.
func (t *Timers) Schedule(msg Message, at time.Time) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.newHandleLocked(msg)
	d := at.Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}
	t.pending[h] = t.clock.AfterFunc(d, func() { t.fire(h, msg) })
	return h
}

func (t *Timers) Cancel(h Handle) {
	t.mu.Lock()
	tm, ok := t.pending[h]
	delete(t.pending, h)
	t.mu.Unlock()
	if ok {
		tm.Stop()
	}
}

func (t *Timers) CancelAll() {
	t.mu.Lock()
	old := t.pending
	t.pending = map[Handle]clockwork.Timer{}
	t.mu.Unlock()
	for _, tm := range old {
		tm.Stop()
	}
}

// Pending reports the number of armed deliveries.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Timers) fire(h Handle, msg Message) {
	t.mu.Lock()
	if _, ok := t.pending[h]; !ok {
		// cancelled while the timer was firing
		t.mu.Unlock()
		return
	}
	delete(t.pending, h)
	handler := t.handler
	t.mu.Unlock()

	ctx := context.Background()
	if handler != nil && !handler.Admit(ctx, msg) {
		t.log.Debug("timed delivery not admitted", logx.String("id", msg.ID), logx.String("category", msg.Category))
		return
	}

	err := t.send(ctx, msg)
	if handler == nil {
		return
	}
	ev := Event{ID: msg.ID, Category: msg.Category, At: t.clock.Now()}
	if err != nil {
		t.log.Warn("timed delivery failed", logx.String("id", msg.ID), logx.Err(err))
		ev.Kind = EventFailed
		ev.Err = err
	} else {
		ev.Kind = EventDelivered
	}
	handler.HandleEvent(ctx, ev)
}
