package engage

import (
	"sort"
	"time"

	"nudgebot/internal/notify"
)

const (
	MaxRanges    = 5
	MaxResponses = 20

	weightIncrement = 0.05
	newRangeWeight  = 0.3
	newRangeHours   = 3
)

// TimeRange is a preferred time-of-day window. StartHour > EndHour wraps
// midnight.
type TimeRange struct {
	StartHour int     `json:"start_hour"`
	EndHour   int     `json:"end_hour"`
	Weight    float64 `json:"weight"`
}

func (r TimeRange) Contains(hour int) bool {
	if r.StartHour > r.EndHour {
		return hour >= r.StartHour || hour < r.EndHour
	}
	return hour >= r.StartHour && hour < r.EndHour
}

// Span is the window length in whole hours (0 for an empty window).
func (r TimeRange) Span() int {
	return (r.EndHour - r.StartHour + 24) % 24
}

type ResponseEvent struct {
	Category  notify.Category `json:"category"`
	At        time.Time       `json:"at"`
	Responded bool            `json:"responded"`
}

// Pattern is a snapshot of what the planner has learned about the user.
type Pattern struct {
	LastActive          time.Time
	AvgSession          time.Duration
	SessionsPerDay      float64
	Ranges              []TimeRange // descending by weight
	InactivityThreshold time.Duration
	Responses           []ResponseEvent // oldest first
	ResponseRates       map[notify.Category]float64
}

func defaultRanges() []TimeRange {
	return []TimeRange{
		{StartHour: 8, EndHour: 10, Weight: 0.7},
		{StartHour: 12, EndHour: 14, Weight: 0.5},
		{StartHour: 19, EndHour: 22, Weight: 0.8},
	}
}

// rangeArena keeps at most MaxRanges ranges sorted descending by weight.
type rangeArena struct {
	items [MaxRanges]TimeRange
	n     int
}

func (a *rangeArena) reset(rs []TimeRange) {
	a.n = 0
	for _, r := range rs {
		a.insert(r)
	}
}

func (a *rangeArena) find(hour int) int {
	for i := 0; i < a.n; i++ {
		if a.items[i].Contains(hour) {
			return i
		}
	}
	return -1
}

func (a *rangeArena) bump(i int, inc float64) {
	a.items[i].Weight = min(1.0, a.items[i].Weight+inc)
	a.sort()
}

// insert adds r, evicting the lowest weight when full. A range that would
// itself be the lowest of a full arena is dropped; it reports whether r was
// kept.
func (a *rangeArena) insert(r TimeRange) bool {
	if a.n < MaxRanges {
		a.items[a.n] = r
		a.n++
		a.sort()
		return true
	}
	last := a.n - 1
	if r.Weight <= a.items[last].Weight {
		return false
	}
	a.items[last] = r
	a.sort()
	return true
}

func (a *rangeArena) sort() {
	s := a.items[:a.n]
	sort.SliceStable(s, func(i, j int) bool { return s[i].Weight > s[j].Weight })
}

func (a *rangeArena) slice() []TimeRange {
	return append([]TimeRange(nil), a.items[:a.n]...)
}

// responseRing holds the last MaxResponses response events.
type responseRing struct {
	items [MaxResponses]ResponseEvent
	start int
	n     int
}

func (r *responseRing) push(ev ResponseEvent) {
	if r.n < MaxResponses {
		r.items[(r.start+r.n)%MaxResponses] = ev
		r.n++
		return
	}
	r.items[r.start] = ev
	r.start = (r.start + 1) % MaxResponses
}

func (r *responseRing) slice() []ResponseEvent {
	out := make([]ResponseEvent, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.items[(r.start+i)%MaxResponses])
	}
	return out
}

func (r *responseRing) reset(evs []ResponseEvent) {
	r.start, r.n = 0, 0
	for _, ev := range evs {
		r.push(ev)
	}
}

// rates computes responded/total per category over the buffered events.
func (r *responseRing) rates() map[notify.Category]float64 {
	type tally struct{ total, responded int }
	counts := map[notify.Category]*tally{}
	for i := 0; i < r.n; i++ {
		ev := r.items[(r.start+i)%MaxResponses]
		t := counts[ev.Category]
		if t == nil {
			t = &tally{}
			counts[ev.Category] = t
		}
		t.total++
		if ev.Responded {
			t.responded++
		}
	}
	out := make(map[notify.Category]float64, len(counts))
	for c, t := range counts {
		out[c] = float64(t.responded) / float64(t.total)
	}
	return out
}
