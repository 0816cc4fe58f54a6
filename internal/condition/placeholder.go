package condition

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// now, now-7d, now+2h, now-30m
var placeholderRe = regexp.MustCompile(`^now(?:([+-])(\d+)([smhdw]))?$`)

// timeRef литерал относительно момента вычисления
type timeRef struct {
	offset time.Duration
}

func (r *timeRef) resolve(now time.Time) time.Time {
	return now.Add(r.offset)
}

func isPlaceholder(s string) bool {
	return placeholderRe.MatchString(strings.TrimSpace(strings.ToLower(s)))
}

func parseTimeRef(s string) (*timeRef, error) {
	m := placeholderRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(s)))
	if m == nil {
		return nil, fmt.Errorf("malformed time placeholder %q", s)
	}
	if m[1] == "" {
		return &timeRef{}, nil
	}

	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed time placeholder %q: %w", s, err)
	}

	var unit time.Duration
	switch m[3] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	if n > int64(math.MaxInt64/unit) {
		return nil, fmt.Errorf("time placeholder %q overflows", s)
	}

	offset := time.Duration(n) * unit
	if m[1] == "-" {
		offset = -offset
	}
	return &timeRef{offset: offset}, nil
}

// toTime приводит значение признака ко времени: RFC3339-строка, unix-секунды или time.Time
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	}
	if f, ok := toFloat(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}
