package timeutil

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimeRange = errors.New("invalid time range")

const (
	RangeHour    = "1h"
	RangeDay     = "24h"
	RangeWeek    = "7d"
	RangeMonth   = "30d"
	RangeQuarter = "90d"
	RangeAll     = "all"
	RangeCustom  = "custom"

	DefaultRange = RangeDay
)

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// Window is a [start, end] interval anchored to a location.
type Window struct {
	label string
	start time.Time
	end   time.Time
	loc   *time.Location
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// NormalizeRange lowercases label and maps unknown values to the default.
func NormalizeRange(label string) string {
	switch l := strings.ToLower(strings.TrimSpace(label)); l {
	case RangeHour, RangeDay, RangeWeek, RangeMonth, RangeQuarter, RangeAll, RangeCustom:
		return l
	default:
		return DefaultRange
	}
}

// NewWindow returns the rolling window ending at now. all and custom have
// no rolling length and fall back to the default.
func NewWindow(label string, now time.Time, loc *time.Location) Window {
	loc = EnsureLocation(loc)
	label = NormalizeRange(label)
	dur, err := durationFromRange(label)
	if err != nil {
		label = DefaultRange
		dur, _ = durationFromRange(label)
	}
	now = now.In(loc)
	return Window{label: label, start: now.Add(-dur), end: now, loc: loc}
}

func (w Window) Label() string { return w.label }
func (w Window) Start() time.Time { return w.start }
func (w Window) End() time.Time { return w.end }
func (w Window) Bounds() (time.Time, time.Time) { return w.start, w.end }
func (w Window) Location() *time.Location { return EnsureLocation(w.loc) }
func (w Window) Duration() time.Duration { return w.end.Sub(w.start) }
func (w Window) Granularity() Granularity { return GranularityFor(w.label) }
func (w Window) Contains(ts time.Time) bool { return !ts.Before(w.start) && !ts.After(w.end) }

// Filter is the started_at bounds of a list query. Nil bounds are open.
type Filter struct {
	Label string
	Start *time.Time
	End   *time.Time
}

// ResolveFilter turns list query parameters into bounds. 1h and 24h are
// rolling; 7d, 30d and 90d start at UTC midnight N days back. A complete
// custom pair wins over label; custom without both bounds is unbounded.
func ResolveFilter(label, customStart, customEnd string, now time.Time) (Filter, error) {
	now = now.UTC()
	cs, ce := strings.TrimSpace(customStart), strings.TrimSpace(customEnd)
	if cs != "" && ce != "" {
		start, err := ParseInstant(cs)
		if err != nil {
			return Filter{}, err
		}
		end, err := ParseInstant(ce)
		if err != nil {
			return Filter{}, err
		}
		if end.Before(start) {
			return Filter{}, ErrInvalidTimeRange
		}
		return Filter{Label: RangeCustom, Start: &start, End: &end}, nil
	}

	label = NormalizeRange(label)
	var start time.Time
	switch label {
	case RangeAll, RangeCustom:
		return Filter{Label: label}, nil
	case RangeHour, RangeDay:
		dur, _ := durationFromRange(label)
		start = now.Add(-dur)
	default:
		days, _ := strconv.Atoi(strings.TrimSuffix(label, "d"))
		start = TruncateToDay(now.AddDate(0, 0, -days), time.UTC)
	}
	return Filter{Label: label, Start: &start}, nil
}

// ParseInstant accepts RFC3339 timestamps and plain dates (UTC midnight).
func ParseInstant(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimeRange
}

// GranularityFor picks the chart bucket size for a range.
func GranularityFor(label string) Granularity {
	switch NormalizeRange(label) {
	case RangeHour, RangeDay:
		return GranularityHour
	case RangeWeek, RangeMonth:
		return GranularityDay
	default:
		return GranularityWeek
	}
}

// BucketStart truncates t to the start of its bucket in loc. Weeks start on
// Monday.
func BucketStart(t time.Time, g Granularity, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	switch g {
	case GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case GranularityDay:
		return TruncateToDay(t, loc)
	default:
		offset := (int(t.Weekday()) + 6) % 7
		return TruncateToDay(t.AddDate(0, 0, -offset), loc)
	}
}

// BucketKey labels a bucket start: RFC3339 for hours, a date otherwise.
func BucketKey(start time.Time, g Granularity) string {
	if g == GranularityHour {
		return start.Format(time.RFC3339)
	}
	return start.Format("2006-01-02")
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func durationFromRange(label string) (time.Duration, error) {
	if len(label) < 2 {
		return 0, ErrInvalidTimeRange
	}
	unit := label[len(label)-1]
	value, err := strconv.Atoi(label[:len(label)-1])
	if err != nil || value <= 0 {
		return 0, ErrInvalidTimeRange
	}
	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	default:
		return 0, ErrInvalidTimeRange
	}
}
