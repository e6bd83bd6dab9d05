package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser5 = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron expression that have 5 fields or a macro like @daily
// returns error if it fails
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}

	// a job is triggered in matching minutes, intervals have no minute to match
	if strings.HasPrefix(e, "@every") {
		return nil, fmt.Errorf("interval %q is not supported: use 5 fields", e)
	}
	return parser5.Parse(e)
}

// CronMatches reports whether the schedule fires in the minute containing t.
func CronMatches(schedule cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return schedule.Next(minute.Add(-time.Second)).Equal(minute)
}
