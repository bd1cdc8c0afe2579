package notify

import "time"

// InQuietHours reports whether t falls in cfg's quiet period. A disabled
// weekday is quiet all day. start > end wraps midnight (22-8); start == end
// means no quiet hours.
func InQuietHours(cfg Config, t time.Time) bool {
	if !cfg.DaysEnabled[int(t.Weekday())] {
		return true
	}
	h := t.Hour()
	start, end := cfg.QuietHoursStart, cfg.QuietHoursEnd
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}

// NextOpenTime returns t when it is outside cfg's quiet period, otherwise
// the start of the first open hour within a week. It returns the zero time
// when every day is disabled.
func NextOpenTime(cfg Config, t time.Time) time.Time {
	if !InQuietHours(cfg, t) {
		return t
	}
	hour := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	for i := 1; i <= 7*24; i++ {
		next := hour.Add(time.Duration(i) * time.Hour)
		if !InQuietHours(cfg, next) {
			return next
		}
	}
	return time.Time{}
}
