package cadence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse turns a schedule string into a Spec.
//
// Supported forms:
//   - "cron:15 6,8,10 * * *", or any bare five-field expression
//   - "every:30m" / bare Go duration like "90m", "2h30m"
//   - "daily:06:15" or bare "06:15" (wall clock, once per day)
//   - "hourly", "hourly:15"
//
// Prefixes are explicit; bare values are routed heuristically (whitespace
// means cron, HH:MM means daily-at, duration syntax means interval).
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty schedule", ErrInvalidCadence)
	}

	// Prefixes (explicit)
	low := strings.ToLower(s)
	switch {
	case low == "hourly":
		return Hourly(), nil
	case strings.HasPrefix(low, "hourly:"):
		v := strings.TrimSpace(s[len("hourly:"):])
		n, err := strconv.Atoi(v)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: hourly minute %q", ErrInvalidCadence, v)
		}
		return HourlyAt(n)
	case strings.HasPrefix(low, "cron:"):
		return Cron(s[len("cron:"):])
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(low, "daily:"):
		h, m, err := parseClock(s[len("daily:"):])
		if err != nil {
			return Spec{}, err
		}
		return DailyAt(h, m)
	}

	// Heuristics:
	// - any whitespace => cron expression
	if strings.ContainsAny(s, " \t") {
		return Cron(s)
	}
	// - HH:MM => daily at that wall-clock time
	if reClock.MatchString(s) {
		h, m, err := parseClock(s)
		if err != nil {
			return Spec{}, err
		}
		return DailyAt(h, m)
	}
	// - Go duration => interval
	if d, err := time.ParseDuration(s); err == nil {
		return Every(d)
	}

	return Spec{}, fmt.Errorf(
		"%w: %q (use cron like '*/5 * * * *', HH:MM like '06:15', or duration like '55m')",
		ErrInvalidCadence, raw,
	)
}

func parseEvery(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("%w: interval required after 'every:'", ErrInvalidCadence)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: interval %q (use a Go duration like '55m'/'2h30m')", ErrInvalidCadence, v)
	}
	return Every(d)
}
