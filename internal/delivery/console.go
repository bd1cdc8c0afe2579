package delivery

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	logx "nudgebot/pkg/logx"
)

// Console logs deliveries instead of sending them anywhere. It always grants
// permission and never fails.
type Console struct {
	log    logx.Logger
	timers *Timers
	sent   atomic.Uint64
}

func NewConsole(clock clockwork.Clock, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Console{log: log}
	c.timers = NewTimers(clock, "console", c.send, log)
	return c
}

func (c *Console) send(_ context.Context, msg Message) error {
	c.sent.Add(1)
	c.log.Info("notification",
		logx.String("id", msg.ID),
		logx.String("category", msg.Category),
		logx.String("priority", msg.Priority),
		logx.String("title", msg.Title),
		logx.String("body", strings.TrimSpace(msg.Body)),
		logx.Bool("sound", msg.Sound),
	)
	return nil
}

// Sent reports how many messages were written.
func (c *Console) Sent() uint64 { return c.sent.Load() }

func (c *Console) RequestPermission(context.Context) bool { return true }

func (c *Console) DeliverNow(ctx context.Context, msg Message) (Handle, error) {
	if err := c.send(ctx, msg); err != nil {
		return "", err
	}
	return c.timers.NewHandle(msg), nil
}

func (c *Console) DeliverAt(_ context.Context, msg Message, at time.Time) (Handle, error) {
	return c.timers.Schedule(msg, at), nil
}

func (c *Console) Cancel(_ context.Context, h Handle) { c.timers.Cancel(h) }

func (c *Console) CancelAll(context.Context) { c.timers.CancelAll() }

func (c *Console) SetHandler(h Handler) { c.timers.SetHandler(h) }

var _ Subsystem = (*Console)(nil)
