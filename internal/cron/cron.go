// Package cron wraps robfig/cron spec parsing behind the small Schedule
// interface the engine's scheduler needs.
package cron

import (
	"time"

	"github.com/robfig/cron/v3"
)

type Schedule interface {
	// Next returns the first activation time after t, and false when the
	// spec can never fire again.
	Next(t time.Time) (time.Time, bool)
}

// Parse accepts the standard five-field crontab format plus the @descriptors
// (@hourly, @daily, ...) and @every durations.
func Parse(spec string) (Schedule, error) {
	parsed, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return schedule{inner: parsed}, nil
}

type schedule struct {
	inner cron.Schedule
}

func (s schedule) Next(t time.Time) (time.Time, bool) {
	next := s.inner.Next(t)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
