package cadence

import (
	"errors"
	"testing"
)

func TestWindowAllows(t *testing.T) {
	t.Parallel()

	w, err := Between("08:00", "19:00")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}

	tests := []struct {
		name string
		hour int
		min  int
		want bool
	}{
		{name: "one minute before start", hour: 7, min: 59, want: false},
		{name: "start inclusive", hour: 8, min: 0, want: true},
		{name: "inside", hour: 12, min: 30, want: true},
		{name: "end inclusive", hour: 19, min: 0, want: true},
		{name: "one minute after end", hour: 19, min: 1, want: false},
		{name: "midnight", hour: 0, min: 0, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := w.Allows(at(tt.hour, tt.min)); got != tt.want {
				t.Fatalf("Allows(%02d:%02d) = %v, want %v", tt.hour, tt.min, got, tt.want)
			}
		})
	}
}

func TestWindowMidnightWrap(t *testing.T) {
	t.Parallel()

	// 22:00-02:00 spans midnight.
	w, err := Between("22:00", "02:00")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}

	for _, tc := range []struct {
		hour int
		min  int
		want bool
	}{
		{21, 59, false},
		{22, 0, true},
		{23, 30, true},
		{0, 0, true},
		{2, 0, true},
		{2, 1, false},
		{12, 0, false},
	} {
		if got := w.Allows(at(tc.hour, tc.min)); got != tc.want {
			t.Fatalf("Allows(%02d:%02d) = %v, want %v", tc.hour, tc.min, got, tc.want)
		}
	}
}

func TestWindowUnless(t *testing.T) {
	t.Parallel()

	w, err := Between("01:00", "03:00")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	w = w.Unless()

	if w.Allows(at(2, 0)) {
		t.Fatal("excluded window allowed a minute inside the range")
	}
	if !w.Allows(at(4, 0)) {
		t.Fatal("excluded window suppressed a minute outside the range")
	}
	if w.Allows(at(1, 0)) || w.Allows(at(3, 0)) {
		t.Fatal("excluded window endpoints not suppressed")
	}
}

func TestWindowZeroAllowsEverything(t *testing.T) {
	t.Parallel()

	var w Window
	if !w.IsZero() {
		t.Fatal("zero window not IsZero")
	}
	for hour := 0; hour < 24; hour++ {
		if !w.Allows(at(hour, 30)) {
			t.Fatalf("zero window blocked %02d:30", hour)
		}
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr bool
		str     string
	}{
		{name: "plain", in: "08:00-19:00", str: "between 08:00-19:00"},
		{name: "spaces", in: " 08:00 - 19:00 ", str: "between 08:00-19:00"},
		{name: "wrap", in: "22:00-02:00", str: "between 22:00-02:00"},
		{name: "missing end", in: "08:00", wantErr: true},
		{name: "bad hour", in: "25:00-19:00", wantErr: true},
		{name: "bad minute", in: "08:61-19:00", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, err := ParseWindow(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCadence) {
					t.Fatalf("ParseWindow(%q): got err=%v, want ErrInvalidCadence", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWindow(%q): %v", tt.in, err)
			}
			if got := w.String(); got != tt.str {
				t.Fatalf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}
