package notify

import (
	"nudgebot/internal/eventbus"
)

// Bus topics published by the engine.
const (
	TopicPrefix    = "notification."
	TopicScheduled = "notification.scheduled"
	TopicDelivered = "notification.delivered"
	TopicRejected  = "notification.rejected"
	TopicCancelled = "notification.cancelled"
	TopicFailed    = "notification.failed"
	TopicResponse  = "notification.response"
)

// Event is the Data payload of every notification.* bus event.
type Event struct {
	ID       string
	Category Category
	Outcome  Outcome // scheduled, delivered, rejected_*, failed
	Source   string
	Reason   string // cancelled: "cancelled", "expired"; failed: error text

	// response only
	Responded bool
	ActionID  string
}

func (e *Engine) publish(topic string, ev Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: topic, Time: e.clock.Now(), Data: ev})
}
