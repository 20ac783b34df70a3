package aggregator

import "time"

// Window selects the trailing Days calendar days in Location, today included. Days <= 0
// selects the whole history.
type Window struct {
	Days     int
	Now      time.Time
	Location *time.Location
}

// LastDays is the common window anchored at the current time in the local zone.
func LastDays(days int) Window {
	return Window{Days: days, Now: time.Now(), Location: time.Local}
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

func (w Window) now() time.Time {
	if w.Now.IsZero() {
		return time.Now()
	}
	return w.Now
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Bounds returns [from, to). Both are zero for an unbounded window.
func (w Window) Bounds() (from, to time.Time) {
	if w.Days <= 0 {
		return time.Time{}, time.Time{}
	}
	today := startOfDay(w.now(), w.loc())
	return today.AddDate(0, 0, -(w.Days - 1)), today.AddDate(0, 0, 1)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	from, to := w.Bounds()
	if from.IsZero() {
		return true
	}
	return !t.Before(from) && t.Before(to)
}

// weekStart returns Monday 00:00 of the week containing now.
func (w Window) weekStart() time.Time {
	today := startOfDay(w.now(), w.loc())
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return today.AddDate(0, 0, -weekday+1)
}
