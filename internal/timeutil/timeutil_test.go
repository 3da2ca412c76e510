package timeutil

import (
	"errors"
	"testing"
	"time"
)

func TestNewWindowRolling(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	win := NewWindow("24h", now, time.UTC)
	if win.Duration() != 24*time.Hour {
		t.Fatalf("unexpected duration %v", win.Duration())
	}
	if !win.Contains(now.Add(-12 * time.Hour)) {
		t.Fatalf("expected timestamp within window")
	}
	if win.Contains(now.Add(-25 * time.Hour)) {
		t.Fatalf("timestamp should be outside window")
	}
	if win.Granularity() != GranularityHour {
		t.Fatalf("unexpected granularity %s", win.Granularity())
	}
}

func TestNewWindowFallsBackToDefault(t *testing.T) {
	now := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	for _, label := range []string{"", "custom", "all", "bogus"} {
		win := NewWindow(label, now, nil)
		if win.Label() != DefaultRange || win.Duration() != 24*time.Hour {
			t.Fatalf("%q: got label %s duration %v", label, win.Label(), win.Duration())
		}
	}
}

func TestNewWindowKeepsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2024, time.November, 7, 12, 0, 0, 0, time.UTC)
	win := NewWindow("7d", now, loc)
	if !win.End().Equal(now) || win.Location() != loc {
		t.Fatalf("unexpected window end %v in %v", win.End(), win.Location())
	}
	if !win.Start().Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("unexpected start %v", win.Start())
	}
}

func TestResolveFilterAlignsDayRanges(t *testing.T) {
	now := time.Date(2025, 3, 15, 18, 45, 0, 0, time.UTC)

	f, err := ResolveFilter("7d", "", "", now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	if f.Start == nil || !f.Start.Equal(want) || f.End != nil {
		t.Fatalf("7d start = %v, want %v", f.Start, want)
	}

	f, err = ResolveFilter("1h", "", "", now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !f.Start.Equal(now.Add(-time.Hour)) {
		t.Fatalf("1h start = %v", f.Start)
	}

	f, err = ResolveFilter("", "", "", now)
	if err != nil || f.Label != RangeDay {
		t.Fatalf("default should be 24h, got %+v %v", f, err)
	}

	f, err = ResolveFilter("all", "", "", now)
	if err != nil || f.Start != nil || f.End != nil {
		t.Fatalf("all should be unbounded, got %+v %v", f, err)
	}
}

func TestResolveFilterCustom(t *testing.T) {
	now := time.Now()
	f, err := ResolveFilter("24h", "2025-01-01", "2025-01-02T12:00:00Z", now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f.Label != RangeCustom {
		t.Fatalf("custom bounds should win, got %s", f.Label)
	}
	if !f.Start.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) || !f.End.Equal(time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bounds %v %v", f.Start, f.End)
	}

	f, err = ResolveFilter("custom", "2025-01-01", "", now)
	if err != nil || f.Start != nil {
		t.Fatalf("incomplete custom range should be unbounded, got %+v %v", f, err)
	}

	if _, err := ResolveFilter("custom", "yesterday", "today", now); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if _, err := ResolveFilter("custom", "2025-02-01", "2025-01-01", now); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange for reversed bounds, got %v", err)
	}
}

func TestBucketStart(t *testing.T) {
	// 2025-03-16 is a Sunday.
	ts := time.Date(2025, 3, 16, 22, 17, 0, 0, time.UTC)

	if got := BucketStart(ts, GranularityHour, time.UTC); !got.Equal(time.Date(2025, 3, 16, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("hour bucket %v", got)
	}
	if got := BucketStart(ts, GranularityDay, time.UTC); !got.Equal(time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day bucket %v", got)
	}
	week := BucketStart(ts, GranularityWeek, time.UTC)
	if !week.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week bucket %v", week)
	}
	if BucketKey(week, GranularityWeek) != "2025-03-10" {
		t.Fatalf("week key %s", BucketKey(week, GranularityWeek))
	}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// Sunday 22:17 UTC is Monday 07:17 in Tokyo.
	if got := BucketStart(ts, GranularityWeek, tokyo); got.Weekday() != time.Monday || got.Day() != 17 {
		t.Fatalf("tokyo week bucket %v", got)
	}
}

func TestGranularityFor(t *testing.T) {
	cases := map[string]Granularity{
		"1h": GranularityHour, "24h": GranularityHour,
		"7d": GranularityDay, "30d": GranularityDay,
		"90d": GranularityWeek,
	}
	for label, want := range cases {
		if got := GranularityFor(label); got != want {
			t.Fatalf("%s: got %s want %s", label, got, want)
		}
	}
}
