// Package telegram delivers notifications as Telegram bot messages.
//
// Every message carries inline action buttons (Open/Dismiss unless the
// request lists its own); presses come back as response events.
package telegram

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"nudgebot/internal/delivery"
	logx "nudgebot/pkg/logx"
)

const (
	actionUnique = "nb_act"

	ActionOpen    = "open"
	ActionDismiss = "dismiss"

	// callback_data is limited to 64 bytes by the Bot API.
	maxCallbackData = 64
	// sent messages remembered for mapping button presses back to a category
	maxTracked = 1024
)

type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	RatePerSec  int
}

type Driver struct {
	cfg    Config
	log    logx.Logger
	clock  clockwork.Clock
	bot    *tele.Bot
	chat   tele.ChatID
	lim    *rate.Limiter
	timers *delivery.Timers

	mu      sync.Mutex
	tracked map[string]string // message id -> category
	order   []string
}

func New(cfg Config, clock clockwork.Clock, log logx.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	d := &Driver{
		cfg:     cfg,
		log:     log,
		clock:   clock,
		bot:     b,
		chat:    tele.ChatID(cfg.ChatID),
		lim:     rate.NewLimiter(rate.Limit(rps), rps),
		tracked: map[string]string{},
	}
	d.timers = delivery.NewTimers(clock, "tg", d.send, log)
	d.bot.Handle(&tele.Btn{Unique: actionUnique}, d.onAction)
	return d, nil
}

// Run polls Telegram for button presses until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.bot.Stop()
	}()
	d.log.Info("polling started")
	d.bot.Start() // blocks until Stop() called
	d.log.Info("polling stopped")
	return nil
}

func (d *Driver) RequestPermission(ctx context.Context) bool {
	if _, err := d.bot.ChatByID(int64(d.chat)); err != nil {
		d.log.Warn("telegram chat not reachable", logx.Int64("chat_id", int64(d.chat)), logx.Err(err))
		return false
	}
	return true
}

func (d *Driver) DeliverNow(ctx context.Context, msg delivery.Message) (delivery.Handle, error) {
	if err := d.send(ctx, msg); err != nil {
		return "", err
	}
	return d.timers.NewHandle(msg), nil
}

func (d *Driver) DeliverAt(_ context.Context, msg delivery.Message, at time.Time) (delivery.Handle, error) {
	return d.timers.Schedule(msg, at), nil
}

func (d *Driver) Cancel(_ context.Context, h delivery.Handle) { d.timers.Cancel(h) }

func (d *Driver) CancelAll(context.Context) { d.timers.CancelAll() }

func (d *Driver) SetHandler(h delivery.Handler) { d.timers.SetHandler(h) }

func (d *Driver) send(ctx context.Context, msg delivery.Message) error {
	if err := d.lim.Wait(ctx); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		DisableNotification: !msg.Sound,
		ReplyMarkup:         buildMarkup(msg, d.log),
	}
	if _, err := d.bot.Send(d.chat, renderText(msg), opts); err != nil {
		return err
	}
	d.track(msg.ID, msg.Category)
	return nil
}

func (d *Driver) track(id, category string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tracked[id]; ok {
		return
	}
	d.tracked[id] = category
	d.order = append(d.order, id)
	if len(d.order) > maxTracked {
		delete(d.tracked, d.order[0])
		d.order = d.order[1:]
	}
}

func (d *Driver) category(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.tracked[id]
	return c, ok
}

func (d *Driver) onAction(c tele.Context) error {
	id, action, ok := parseCallback(c.Data())
	if !ok {
		return c.Respond()
	}
	cat, known := d.category(id)
	if !known {
		d.log.Debug("action for unknown message", logx.String("id", id))
		return c.Respond(&tele.CallbackResponse{Text: "This notification has expired."})
	}
	ev := delivery.Event{
		Kind:      delivery.EventResponse,
		ID:        id,
		Category:  cat,
		At:        d.clock.Now(),
		ActionID:  action,
		Responded: action != ActionDismiss,
	}
	if h := d.timers.Handler(); h != nil {
		h.HandleEvent(context.Background(), ev)
	}
	// One response per message.
	d.mu.Lock()
	delete(d.tracked, id)
	d.mu.Unlock()

	text := "Noted."
	if action == ActionDismiss {
		text = "Dismissed."
	}
	return c.Respond(&tele.CallbackResponse{Text: text})
}

func renderText(msg delivery.Message) string {
	var b strings.Builder
	switch strings.ToUpper(msg.Priority) {
	case "HIGH":
		b.WriteString("❗ ")
	case "LOW":
		b.WriteString("· ")
	}
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(msg.Title))
	b.WriteString("</b>")
	if body := strings.TrimSpace(msg.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(body))
	}
	return b.String()
}

func buildMarkup(msg delivery.Message, log logx.Logger) *tele.ReplyMarkup {
	actions := msg.Actions
	if len(actions) == 0 {
		actions = []delivery.Action{{ID: ActionOpen, Title: "Open"}, {ID: ActionDismiss, Title: "Dismiss"}}
	}
	m := &tele.ReplyMarkup{}
	row := make([]tele.Btn, 0, len(actions))
	for _, a := range actions {
		data := msg.ID + "|" + a.ID
		// "\f" + unique + "|" prefix is added by telebot
		if len(data)+len(actionUnique)+2 > maxCallbackData {
			log.Warn("action dropped: callback data too long", logx.String("id", msg.ID), logx.String("action", a.ID))
			continue
		}
		row = append(row, m.Data(a.Title, actionUnique, msg.ID, a.ID))
	}
	if len(row) == 0 {
		return nil
	}
	m.Inline(m.Row(row...))
	return m
}

func parseCallback(data string) (id, action string, ok bool) {
	id, action, ok = strings.Cut(strings.TrimSpace(data), "|")
	if !ok || id == "" || action == "" {
		return "", "", false
	}
	return id, action, true
}

var _ delivery.Subsystem = (*Driver)(nil)
