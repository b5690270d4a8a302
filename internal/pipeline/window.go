package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
)

// Window is a daily wall-clock interval. End before start wraps past
// midnight; equal bounds mean always open.
type Window struct {
	start, end int // minutes after midnight
	loc        *time.Location
}

// ParseWindow parses "HH:MM" bounds in loc.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := minuteOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := minuteOfDay(end)
	if err != nil {
		return Window{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return Window{start: s, end: e, loc: loc}, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	t = t.In(w.loc)
	m := t.Hour()*60 + t.Minute()
	switch {
	case w.start == w.end:
		return true
	case w.start < w.end:
		return m >= w.start && m < w.end
	default:
		return m >= w.start || m < w.end
	}
}

func minuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: parse window bound %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
