package fundamental

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// CalendarEvent is one scheduled economic release.
type CalendarEvent struct {
	Time       time.Time `yaml:"time"`
	Event      string    `yaml:"event"`
	Currencies []string  `yaml:"currencies"`
	// Impact grades the expected market effect: high, medium or low.
	Impact   string   `yaml:"impact"`
	Forecast *float64 `yaml:"forecast"`
	Previous *float64 `yaml:"previous"`
	Actual   *float64 `yaml:"actual"`
}

type calendarFile struct {
	Events []CalendarEvent `yaml:"events"`
}

// LoadCalendar reads a YAML economic calendar and returns its events sorted
// by release time.
func LoadCalendar(path string) ([]CalendarEvent, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied calendar path
	if err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}

	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", path, err)
	}

	for i, ev := range file.Events {
		if ev.Event == "" {
			return nil, fmt.Errorf("calendar %s: event %d has no name", path, i)
		}
		if len(ev.Currencies) == 0 {
			return nil, fmt.Errorf("calendar %s: event %q affects no currencies", path, ev.Event)
		}
	}

	sort.Slice(file.Events, func(i, j int) bool {
		return file.Events[i].Time.Before(file.Events[j].Time)
	})
	return file.Events, nil
}
