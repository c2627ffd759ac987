package cadence

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr bool
		kind    Kind
		every   time.Duration
		str     string
	}{
		{name: "cron prefix", in: "cron:*/5 * * * *", kind: KindCron, str: "cron:*/5 * * * *"},
		{name: "bare cron", in: "15 6,8,10 * * *", kind: KindCron, str: "cron:15 6,8,10 * * *"},
		{name: "every prefix", in: "every:30m", kind: KindInterval, every: 30 * time.Minute},
		{name: "bare duration", in: "90m", kind: KindInterval, every: 90 * time.Minute},
		{name: "compound duration", in: "2h30m", kind: KindInterval, every: 150 * time.Minute},
		{name: "daily prefix", in: "daily:06:15", kind: KindDaily, str: "daily:06:15"},
		{name: "bare clock", in: "06:15", kind: KindDaily, str: "daily:06:15"},
		{name: "hourly", in: "hourly", kind: KindHourly},
		{name: "hourly upper", in: "HOURLY", kind: KindHourly},
		{name: "hourly at", in: "hourly:15", kind: KindHourlyAt, str: "hourly:15"},
		{name: "whitespace", in: "  every:30m  ", kind: KindInterval, every: 30 * time.Minute},
		{name: "empty", in: "", wantErr: true},
		{name: "blank", in: "   ", wantErr: true},
		{name: "cron prefix empty", in: "cron:", wantErr: true},
		{name: "every prefix empty", in: "every:", wantErr: true},
		{name: "sub-minute interval", in: "every:30s", wantErr: true},
		{name: "hourly bad minute", in: "hourly:61", wantErr: true},
		{name: "hourly not a number", in: "hourly:soon", wantErr: true},
		{name: "daily bad clock", in: "daily:24:00", wantErr: true},
		{name: "nonsense", in: "whenever", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCadence) {
					t.Fatalf("Parse(%q): got err=%v, want ErrInvalidCadence", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got.Kind() != tt.kind {
				t.Fatalf("Parse(%q).Kind() = %v, want %v", tt.in, got.Kind(), tt.kind)
			}
			if tt.every != 0 && got.Interval() != tt.every {
				t.Fatalf("Parse(%q).Interval() = %v, want %v", tt.in, got.Interval(), tt.every)
			}
			if tt.str != "" && got.String() != tt.str {
				t.Fatalf("Parse(%q).String() = %q, want %q", tt.in, got.String(), tt.str)
			}
		})
	}
}
