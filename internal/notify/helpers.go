package notify

import (
	"context"
	"time"
)

// ScheduleReminder schedules a NORMAL priority reminder for at.
func (e *Engine) ScheduleReminder(ctx context.Context, title, body string, at time.Time, data map[string]any) (string, error) {
	return e.ScheduleNotification(ctx, Request{
		Category:     CategoryReminder,
		Title:        title,
		Body:         body,
		Data:         data,
		Priority:     PriorityNormal,
		ScheduledFor: at,
	})
}

// SendEngagement sends an engagement notification now.
func (e *Engine) SendEngagement(ctx context.Context, title, body string, data map[string]any) (string, error) {
	return e.ScheduleNotification(ctx, Request{
		Category: CategoryEngagement,
		Title:    title,
		Body:     body,
		Data:     data,
		Priority: PriorityNormal,
	})
}

// SendAchievement sends a HIGH priority "Achievement Unlocked" notification.
func (e *Engine) SendAchievement(ctx context.Context, name, message string, data map[string]any) (string, error) {
	return e.ScheduleNotification(ctx, Request{
		Category: CategoryAchievement,
		Title:    "Achievement Unlocked: " + name,
		Body:     message,
		Data:     withField(data, "achievement_name", name),
		Priority: PriorityHigh,
	})
}

// SendPersonalGrowth sends a personal growth insight now.
func (e *Engine) SendPersonalGrowth(ctx context.Context, insight, message string, data map[string]any) (string, error) {
	return e.ScheduleNotification(ctx, Request{
		Category: CategoryPersonalGrowth,
		Title:    "Personal Growth Insight",
		Body:     message,
		Data:     withField(data, "insight", insight),
		Priority: PriorityNormal,
	})
}

func withField(data map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for dk, dv := range data {
		out[dk] = dv
	}
	out[k] = v
	return out
}
