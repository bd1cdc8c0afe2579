// Package deliverytest provides a recording delivery.Subsystem for tests.
package deliverytest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"nudgebot/internal/delivery"
	logx "nudgebot/pkg/logx"
)

// Scheduled is a recorded DeliverAt call.
type Scheduled struct {
	Handle delivery.Handle
	Msg    delivery.Message
	At     time.Time
}

// Recorder records every call and runs timed deliveries on the given clock.
type Recorder struct {
	timers *delivery.Timers

	mu        sync.Mutex
	denied    bool
	failNow   error
	failTimed error
	now       []delivery.Message
	fired     []delivery.Message
	scheduled []Scheduled
	cancels   []delivery.Handle
	cancelAll int
	handler   delivery.Handler
}

func New(clock clockwork.Clock) *Recorder {
	r := &Recorder{}
	r.timers = delivery.NewTimers(clock, "rec", r.sendTimed, logx.Nop())
	return r
}

func (r *Recorder) sendTimed(_ context.Context, msg delivery.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTimed != nil {
		return r.failTimed
	}
	r.fired = append(r.fired, msg)
	return nil
}

// Deny makes RequestPermission return false.
func (r *Recorder) Deny() {
	r.mu.Lock()
	r.denied = true
	r.mu.Unlock()
}

// FailNow makes DeliverNow return err (nil restores success).
func (r *Recorder) FailNow(err error) {
	r.mu.Lock()
	r.failNow = err
	r.mu.Unlock()
}

// FailTimed makes timed deliveries fail with err (nil restores success).
func (r *Recorder) FailTimed(err error) {
	r.mu.Lock()
	r.failTimed = err
	r.mu.Unlock()
}

func (r *Recorder) RequestPermission(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.denied
}

func (r *Recorder) DeliverNow(_ context.Context, msg delivery.Message) (delivery.Handle, error) {
	r.mu.Lock()
	err := r.failNow
	if err == nil {
		r.now = append(r.now, msg)
	}
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return r.timers.NewHandle(msg), nil
}

func (r *Recorder) DeliverAt(_ context.Context, msg delivery.Message, at time.Time) (delivery.Handle, error) {
	h := r.timers.Schedule(msg, at)
	r.mu.Lock()
	r.scheduled = append(r.scheduled, Scheduled{Handle: h, Msg: msg, At: at})
	r.mu.Unlock()
	return h, nil
}

func (r *Recorder) Cancel(_ context.Context, h delivery.Handle) {
	r.timers.Cancel(h)
	r.mu.Lock()
	r.cancels = append(r.cancels, h)
	r.mu.Unlock()
}

func (r *Recorder) CancelAll(context.Context) {
	r.timers.CancelAll()
	r.mu.Lock()
	r.cancelAll++
	r.mu.Unlock()
}

func (r *Recorder) SetHandler(h delivery.Handler) {
	r.timers.SetHandler(h)
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Respond simulates a user reaction to a delivered message.
func (r *Recorder) Respond(ctx context.Context, msg delivery.Message, responded bool) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return
	}
	h.HandleEvent(ctx, delivery.Event{
		Kind:      delivery.EventResponse,
		ID:        msg.ID,
		Category:  msg.Category,
		Responded: responded,
	})
}

// Now returns messages passed to DeliverNow.
func (r *Recorder) Now() []delivery.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Message(nil), r.now...)
}

// Fired returns timed messages that were admitted and sent.
func (r *Recorder) Fired() []delivery.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Message(nil), r.fired...)
}

func (r *Recorder) Scheduled() []Scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Scheduled(nil), r.scheduled...)
}

func (r *Recorder) Cancels() []delivery.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Handle(nil), r.cancels...)
}

func (r *Recorder) CancelAllCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAll
}

// Pending reports armed timed deliveries.
func (r *Recorder) Pending() int { return r.timers.Pending() }

var _ delivery.Subsystem = (*Recorder)(nil)
