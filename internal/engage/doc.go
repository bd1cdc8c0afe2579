// Package engage plans engagement notifications on top of the notification
// engine.
//
// The planner tracks the user's last activity, preferred times of day and
// per-category response rates. From that it keeps a rolling week of routine
// check-ins scheduled and sends a re-engagement nudge once the user has been
// inactive for longer than the configured threshold.
package engage
