package cadence

import (
	"errors"
	"testing"
	"time"
)

func TestCronValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "wildcards", expr: "* * * * *"},
		{name: "lists and steps", expr: "15 6,8,10 * * *"},
		{name: "ranges", expr: "0-30/5 9-17 * * 1-5"},
		{name: "names", expr: "0 12 * * MON"},
		{name: "empty", expr: "", wantErr: true},
		{name: "four fields", expr: "* * * *", wantErr: true},
		{name: "six fields", expr: "* * * * * *", wantErr: true},
		{name: "minute out of range", expr: "60 * * * *", wantErr: true},
		{name: "hour out of range", expr: "0 24 * * *", wantErr: true},
		{name: "garbage", expr: "tuesday-ish", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Cron(tt.expr)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCadence) {
					t.Fatalf("Cron(%q): got err=%v, want ErrInvalidCadence", tt.expr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cron(%q): %v", tt.expr, err)
			}
		})
	}
}

func TestCronHourList(t *testing.T) {
	t.Parallel()

	// "15 6,8,10 * * *" fires at 06:15, 08:15 and 10:15 only.
	s, err := Cron("15 6,8,10 * * *")
	if err != nil {
		t.Fatalf("Cron: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "06:15", now: at(6, 15), want: true},
		{name: "08:15", now: at(8, 15), want: true},
		{name: "10:15", now: at(10, 15), want: true},
		{name: "07:15 hour not listed", now: at(7, 15), want: false},
		{name: "06:16 wrong minute", now: at(6, 16), want: false},
		{name: "06:14 wrong minute", now: at(6, 14), want: false},
		{name: "12:15 hour not listed", now: at(12, 15), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.IsDue(tt.now, time.Time{}); got != tt.want {
				t.Fatalf("IsDue(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestCronDayFields(t *testing.T) {
	t.Parallel()

	// 2026-03-09 is a Monday; 2026-03-13 is a Friday.
	monday := time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	friday13 := time.Date(2026, time.March, 13, 12, 0, 0, 0, time.UTC)
	friday20 := time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC)
	monday13 := time.Date(2026, time.April, 13, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		now  time.Time
		want bool
	}{
		{name: "dow restricted hits", expr: "0 12 * * 1", now: monday, want: true},
		{name: "dow restricted misses", expr: "0 12 * * 1", now: tuesday, want: false},
		{name: "dom restricted hits", expr: "0 12 13 * *", now: friday13, want: true},
		{name: "dom restricted misses", expr: "0 12 13 * *", now: friday20, want: false},
		{name: "both explicit both match", expr: "0 12 13 * 5", now: friday13, want: true},
		{name: "both explicit dom misses", expr: "0 12 13 * 5", now: friday20, want: false},
		{name: "both explicit dow misses", expr: "0 12 13 * 5", now: monday13, want: false},
		{name: "month restricted hits", expr: "0 12 * 3 *", now: monday, want: true},
		{name: "month restricted misses", expr: "0 12 * 4 *", now: monday, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Cron(tt.expr)
			if err != nil {
				t.Fatalf("Cron(%q): %v", tt.expr, err)
			}
			if got := s.IsDue(tt.now, time.Time{}); got != tt.want {
				t.Fatalf("Cron(%q).IsDue(%v) = %v, want %v", tt.expr, tt.now, got, tt.want)
			}
		})
	}
}

func TestCronTimezone(t *testing.T) {
	t.Parallel()

	// An explicit CRON_TZ pins matching to that zone regardless of the
	// zone the evaluation time carries.
	s, err := Cron("CRON_TZ=UTC 30 14 * * *")
	if err != nil {
		t.Fatalf("Cron: %v", err)
	}

	utc := time.Date(2026, time.March, 9, 14, 30, 0, 0, time.UTC)
	if !s.IsDue(utc, time.Time{}) {
		t.Fatal("not due at 14:30 UTC")
	}
	plus2 := utc.In(time.FixedZone("EET", 2*3600)) // 16:30 local, same instant
	if !s.IsDue(plus2, time.Time{}) {
		t.Fatal("zone of the input changed the answer")
	}
	if s.IsDue(utc.Add(time.Hour), time.Time{}) {
		t.Fatal("due at 15:30 UTC")
	}
}

func TestCronSameMinuteIdempotent(t *testing.T) {
	t.Parallel()

	s, err := Cron("*/5 * * * *")
	if err != nil {
		t.Fatalf("Cron: %v", err)
	}
	now := at(10, 5)
	if !s.IsDue(now, time.Time{}) {
		t.Fatal("not due on a matching minute")
	}
	if s.IsDue(now.Add(45*time.Second), now) {
		t.Fatal("due twice within the matching minute")
	}
	if !s.IsDue(at(10, 10), now) {
		t.Fatal("next matching minute not due")
	}
	if s.IsDue(at(10, 7), now) {
		t.Fatal("due on a non-matching minute")
	}
}
