// Package delivery defines the contract between the scheduling core and the
// component that actually puts a notification in front of the user.
//
// Drivers: console (logs deliveries) and telegram (bot messages with inline
// Open/Dismiss buttons).
package delivery

import (
	"context"
	"time"
)

// Handle identifies an accepted delivery. Drivers choose the format.
type Handle string

// Action is an inline action attached to a notification.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is the driver-facing view of a notification request.
type Message struct {
	ID       string         `json:"id"`
	Category string         `json:"category"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Priority string         `json:"priority"`
	Sound    bool           `json:"sound"`
	Vibrate  bool           `json:"vibrate"`
	Actions  []Action       `json:"actions,omitempty"`
}

type EventKind string

const (
	// EventDelivered is emitted after a DeliverAt message was sent.
	EventDelivered EventKind = "delivered"
	// EventFailed is emitted when a DeliverAt message could not be sent.
	EventFailed EventKind = "failed"
	// EventResponse is emitted when the user reacted to a delivered message.
	EventResponse EventKind = "response"
)

type Event struct {
	Kind     EventKind
	ID       string
	Category string
	At       time.Time

	// Response only.
	ActionID  string
	Responded bool

	// Failed only.
	Err error
}

// Handler receives callbacks from a Subsystem.
type Handler interface {
	// Admit is called right before a DeliverAt message is sent. Returning
	// false drops the message without an event.
	Admit(ctx context.Context, msg Message) bool
	HandleEvent(ctx context.Context, ev Event)
}

// Subsystem delivers notifications.
//
// DeliverNow reports the outcome synchronously and emits no Delivered/Failed
// event. DeliverAt must not block; its outcome arrives through the Handler.
// Cancel and CancelAll are idempotent.
type Subsystem interface {
	RequestPermission(ctx context.Context) bool
	DeliverNow(ctx context.Context, msg Message) (Handle, error)
	DeliverAt(ctx context.Context, msg Message, at time.Time) (Handle, error)
	Cancel(ctx context.Context, h Handle)
	CancelAll(ctx context.Context)
	SetHandler(h Handler)
}
