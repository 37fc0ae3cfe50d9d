// Package timewindow maps absolute instants onto a 24-hour display day that
// starts at an arbitrary hour offset (e.g. a 06:00 to 06:00 day).
//
// All arithmetic is done on absolute instants. The fixed zone carried by an
// instant is only used to find its local midnight.
package timewindow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	secondsPerDay  = 86400
	secondsPerHour = 3600
	day            = 24 * time.Hour
)

// ErrInvalidBaseline is returned when an hour offset cannot be applied.
var ErrInvalidBaseline = errors.New("invalid baseline")

// Clock returns the current instant. Controllers take a Clock so tests can
// pin time.
type Clock func() time.Time

// LocalNow returns the current instant in a fixed zone equal to the
// environment's current UTC offset. No timezone database is consulted.
func LocalNow() time.Time {
	now := time.Now()
	_, off := now.Zone()
	return now.In(time.FixedZone("", off))
}

// ZoneFromOffsetMinutes builds a fixed zone east of UTC.
func ZoneFromOffsetMinutes(minutes int) *time.Location {
	return time.FixedZone("", minutes*60)
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// ZonedClock returns a Clock reading the system time in loc.
func ZonedClock(loc *time.Location) Clock {
	return func() time.Time { return time.Now().In(loc) }
}

// secondsFromMidnight returns whole seconds since local midnight of t.
func secondsFromMidnight(t time.Time) int {
	return t.Hour()*secondsPerHour + t.Minute()*60 + t.Second()
}

// TimebarPosition returns the "now" marker height as a percentage measured
// from the bottom of the window. It decreases linearly through the day and
// wraps once at the offset hour. The result is not clamped.
func TimebarPosition(now time.Time, offsetHours int) float64 {
	s := float64(secondsFromMidnight(now))
	o := float64(offsetHours * secondsPerHour)

	if s < o {
		return 100 * (o - s) / secondsPerDay
	}
	return 100 * (1 - (s-o)/secondsPerDay)
}

// ComputeBaseline returns the local midnight the active display day is
// anchored to. Before the offset hour the active day began yesterday, so the
// baseline is the previous midnight.
func ComputeBaseline(now time.Time, offsetHours int) (time.Time, error) {
	if offsetHours < 0 || offsetHours >= 24 {
		return time.Time{}, fmt.Errorf("%w: offset %d outside [0,24)", ErrInvalidBaseline, offsetHours)
	}

	s := secondsFromMidnight(now)
	midnight := now.Add(-time.Duration(s)*time.Second - time.Duration(now.Nanosecond()))

	if s < offsetHours*secondsPerHour {
		return midnight.Add(-day), nil
	}
	return midnight, nil
}

// TimeToFraction returns how far t lies into the window, clamped to [0,1].
// Instants outside the window saturate at the nearest edge.
func TimeToFraction(t, baseline time.Time, offsetHours int) float64 {
	raw := t.Sub(baseline).Seconds()/secondsPerDay - float64(offsetHours)/24
	switch {
	case raw < 0:
		return 0
	case raw > 1:
		return 1
	default:
		return raw
	}
}

// Window is the 24h absolute range currently displayed.
type Window struct {
	Baseline    time.Time
	Start       time.Time
	End         time.Time
	OffsetHours int
}

// NewWindow derives the display window that contains now.
func NewWindow(now time.Time, offsetHours int) (Window, error) {
	baseline, err := ComputeBaseline(now, offsetHours)
	if err != nil {
		return Window{}, err
	}
	offset := time.Duration(offsetHours) * time.Hour
	return Window{
		Baseline:    baseline,
		Start:       baseline.Add(offset),
		End:         baseline.Add(day + offset),
		OffsetHours: offsetHours,
	}, nil
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Intersects reports whether [start, end) overlaps the window.
func (w Window) Intersects(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// Fraction is TimeToFraction relative to this window.
func (w Window) Fraction(t time.Time) float64 {
	return TimeToFraction(t, w.Baseline, w.OffsetHours)
}

// ParseClock converts an "HH:MM" wall-clock value entered for the active day
// into an absolute instant. Times earlier than the offset hour belong to the
// tail of the window, i.e. the next calendar day.
func ParseClock(hhmm string, baseline time.Time, offsetHours int) (time.Time, error) {
	hStr, mStr, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return time.Time{}, fmt.Errorf("clock %q: expected HH:MM", hhmm)
	}
	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, fmt.Errorf("clock %q: bad hour", hhmm)
	}
	m, err := strconv.Atoi(mStr)
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("clock %q: bad minute", hhmm)
	}

	secs := h*secondsPerHour + m*60
	t := baseline.Add(time.Duration(secs) * time.Second)
	if secs < offsetHours*secondsPerHour {
		t = t.Add(day)
	}
	return t, nil
}

// HourLabels returns the 24 hour-grid labels from the top of the window.
func HourLabels(offsetHours int) []string {
	labels := make([]string, 24)
	for h := 0; h < 24; h++ {
		labels[h] = fmt.Sprintf("%02d:00", (h+offsetHours)%24)
	}
	return labels
}
