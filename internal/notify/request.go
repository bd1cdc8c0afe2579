package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nudgebot/internal/delivery"
)

// Request asks the engine to deliver a notification.
//
// A zero ScheduledFor (or one not in the future) means deliver now. A zero
// ExpireAfter never expires.
type Request struct {
	ID           string            `json:"id"`
	Category     Category          `json:"category"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]any    `json:"data,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	ScheduledFor time.Time         `json:"scheduled_for,omitzero"`
	ExpireAfter  time.Time         `json:"expire_after,omitzero"`
	Persistent   bool              `json:"persistent,omitempty"`
	Actions      []delivery.Action `json:"actions,omitempty"`
}

// Source returns Data["source"] as a string ("" when absent).
func (r Request) Source() string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data["source"].(string)
	return s
}

func (r Request) validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, ErrUnknownCategory, r.Category)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, r.Priority)
	}
	for i, a := range r.Actions {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Title) == "" {
			return fmt.Errorf("%w: action %d needs id and title", ErrInvalidRequest, i)
		}
	}
	return nil
}

// normalized fills the id and priority and copies Data so later caller
// mutations don't leak into the engine.
func (r Request) normalized(cfg Config) Request {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.Priority == "" {
		r.Priority = cfg.DefaultPriority
	}
	if r.Data != nil {
		data := make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			data[k] = v
		}
		r.Data = data
	}
	r.Actions = append([]delivery.Action(nil), r.Actions...)
	return r
}

func (r Request) message(cfg Config) delivery.Message {
	return delivery.Message{
		ID:       r.ID,
		Category: string(r.Category),
		Title:    r.Title,
		Body:     r.Body,
		Data:     r.Data,
		Priority: string(r.Priority),
		Sound:    cfg.EnableSound,
		Vibrate:  cfg.EnableVibration,
		Actions:  r.Actions,
	}
}
