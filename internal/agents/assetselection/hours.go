package assetselection

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Window is one open interval within a day, using "HH:MM" wall clock in UTC.
// An end of "24:00" means midnight at the end of the day.
type Window struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Schedule maps lowercase weekday names to their open windows. A missing day
// is closed all day.
type Schedule map[string][]Window

// DefaultForexSchedule is the standard spot forex week: opens Sunday 22:00
// UTC, closes Friday 22:00 UTC.
func DefaultForexSchedule() Schedule {
	full := []Window{{Open: "00:00", Close: "24:00"}}
	return Schedule{
		"sunday":    {{Open: "22:00", Close: "24:00"}},
		"monday":    full,
		"tuesday":   full,
		"wednesday": full,
		"thursday":  full,
		"friday":    {{Open: "00:00", Close: "22:00"}},
	}
}

type scheduleFile struct {
	Hours Schedule `yaml:"trading_hours"`
}

// LoadSchedule reads a YAML trading-hours table.
func LoadSchedule(path string) (Schedule, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied schedule path
	if err != nil {
		return nil, fmt.Errorf("read trading hours %s: %w", path, err)
	}
	var file scheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse trading hours %s: %w", path, err)
	}
	if len(file.Hours) == 0 {
		return nil, fmt.Errorf("trading hours %s: no days defined", path)
	}
	for day, windows := range file.Hours {
		for _, w := range windows {
			if _, err := parseClock(w.Open); err != nil {
				return nil, fmt.Errorf("trading hours %s: %s open: %w", path, day, err)
			}
			if _, err := parseClock(w.Close); err != nil {
				return nil, fmt.Errorf("trading hours %s: %s close: %w", path, day, err)
			}
		}
	}
	return file.Hours, nil
}

// IsOpen reports whether the market is open at now, widening every window by
// the tolerance at both edges.
func (s Schedule) IsOpen(now time.Time, tolerance time.Duration) bool {
	day := strings.ToLower(now.Weekday().String())
	minute := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute

	for _, w := range s[day] {
		open, _ := parseClock(w.Open)
		close, _ := parseClock(w.Close)
		if minute >= open-tolerance && minute < close+tolerance {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" into an offset from midnight. "24:00" is
// accepted as end-of-day.
func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
