package shared

import "time"

// TimeWindow restricts access to a daily interval, minutes since midnight
// UTC. A zero window permits everything. Windows may wrap past midnight
// (StartMinute > EndMinute).
type TimeWindow struct {
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	Days        []time.Weekday `json:"days,omitempty"`
}

// IsZero reports whether the window carries no restriction.
func (w TimeWindow) IsZero() bool {
	return w.StartMinute == 0 && w.EndMinute == 0 && len(w.Days) == 0
}

// Allows reports whether t falls inside the window.
func (w TimeWindow) Allows(t time.Time) bool {
	if w.IsZero() {
		return true
	}
	t = t.UTC()
	if len(w.Days) > 0 {
		ok := false
		for _, d := range w.Days {
			if t.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if w.StartMinute == 0 && w.EndMinute == 0 {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if w.StartMinute <= w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	// Wrapping window, e.g. 22:00-06:00.
	return minute >= w.StartMinute || minute < w.EndMinute
}

// GeoRestriction is an allow-list of ISO country codes. Empty means
// unrestricted. An empty country claim fails any non-empty restriction.
type GeoRestriction []string

// Allows reports whether the request origin country passes the restriction.
func (g GeoRestriction) Allows(country string) bool {
	if len(g) == 0 {
		return true
	}
	for _, c := range g {
		if c == country {
			return true
		}
	}
	return false
}
