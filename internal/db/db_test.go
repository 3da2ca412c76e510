package db

import (
	"testing"
	"time"
)

func TestRebindPostgres(t *testing.T) {
	q := New(nil, DialectPostgres)
	got := q.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}

	sqlite := New(nil, DialectSQLite)
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind should be identity, got %q", got)
	}
}

func TestTimestampEncoding(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 4, 5, 123_000_000, time.FixedZone("x", 3600))
	q := New(nil, DialectSQLite)
	if got := q.ts(ts); got != "2024-03-01T09:04:05.123Z" {
		t.Fatalf("sqlite ts = %v", got)
	}
	pg := New(nil, DialectPostgres)
	if got, ok := pg.ts(ts).(time.Time); !ok || !got.Equal(ts) || got.Location() != time.UTC {
		t.Fatalf("postgres ts = %v", got)
	}
	if q.nullTS(nil) != nil {
		t.Fatal("nil time should encode as NULL")
	}
}

func TestTimeScanner(t *testing.T) {
	cases := []interface{}{
		"2024-03-01T09:04:05.123Z",
		[]byte("2024-03-01 09:04:05.123+00:00"),
		time.Date(2024, 3, 1, 9, 4, 5, 123_000_000, time.UTC),
	}
	for _, src := range cases {
		var got time.Time
		if err := scanTime(&got).Scan(src); err != nil {
			t.Fatalf("scan %v: %v", src, err)
		}
		if got.Format(timeLayout) != "2024-03-01T09:04:05.123Z" {
			t.Fatalf("scan %v = %s", src, got)
		}
	}

	var ptr *time.Time
	if err := scanNullTime(&ptr).Scan(nil); err != nil || ptr != nil {
		t.Fatalf("expected nil pointer, got %v err %v", ptr, err)
	}
	if err := scanTime(new(time.Time)).Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestIsMissingTable(t *testing.T) {
	if !IsMissingTable(errString("SQL logic error: no such table: executions (1)")) {
		t.Fatal("sqlite message not detected")
	}
	if !IsMissingTable(errString(`ERROR: relation "executions" does not exist (SQLSTATE 42P01)`)) {
		t.Fatal("postgres message not detected")
	}
	if IsMissingTable(nil) || IsMissingTable(errString("boom")) {
		t.Fatal("unexpected match")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
