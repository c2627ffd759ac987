package cadence

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Window restricts firings to an inclusive wall-clock range. The zero value
// allows every minute. A window with Excluded set inverts the range: minutes
// inside it are suppressed instead of allowed.
type Window struct {
	start   int // minutes since midnight
	end     int
	set     bool
	exclude bool
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// Between builds a window allowing [start, end], both endpoints inclusive,
// from "HH:MM" strings. An end before the start wraps past midnight:
// Between("22:00", "02:00") allows 22:00..23:59 and 00:00..02:00.
func Between(start, end string) (Window, error) {
	sh, sm, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{start: sh*60 + sm, end: eh*60 + em, set: true}, nil
}

// Unless returns w inverted: minutes inside the range are suppressed.
func (w Window) Unless() Window {
	w.exclude = true
	return w
}

// ParseWindow parses a "HH:MM-HH:MM" range.
func ParseWindow(v string) (Window, error) {
	s := strings.TrimSpace(v)
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("%w: window %q (use \"HH:MM-HH:MM\")", ErrInvalidCadence, v)
	}
	return Between(parts[0], parts[1])
}

// Allows reports whether t's wall-clock minute falls inside the window (or
// outside it, for an excluded window).
func (w Window) Allows(t time.Time) bool {
	if !w.set {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	var in bool
	if w.start <= w.end {
		in = m >= w.start && m <= w.end
	} else {
		in = m >= w.start || m <= w.end
	}
	if w.exclude {
		return !in
	}
	return in
}

// IsZero reports whether w is the unrestricted zero window.
func (w Window) IsZero() bool { return !w.set }

// Excluded reports whether the window suppresses instead of allows.
func (w Window) Excluded() bool { return w.exclude }

func (w Window) String() string {
	if !w.set {
		return "always"
	}
	s := fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
	if w.exclude {
		return "unless " + s
	}
	return "between " + s
}

func parseClock(v string) (hour, minute int, err error) {
	m := reClock.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: time %q (use \"HH:MM\")", ErrInvalidCadence, v)
	}
	for i := 0; i < len(m[1]); i++ {
		hour = hour*10 + int(m[1][i]-'0')
	}
	minute = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour %d out of range 0..23", ErrInvalidCadence, hour)
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidCadence, minute)
	}
	return hour, minute, nil
}
