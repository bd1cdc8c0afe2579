// Package notify is the delivery and quota engine.
//
// The engine decides whether a notification may be sent (permission, quiet
// hours, category switch, daily quota), sends it now or hands it to the
// delivery subsystem for later, and mirrors its config, counters and
// scheduled entries to the store. Timed deliveries are re-checked through
// Admit when they fire, so the daily quota holds for them too.
package notify
