// Package graceperiod compares actual clock events to the scheduled window.
package graceperiod

import (
	"math"
	"time"
)

// DefaultGraceMinutes applies when a jurisdiction does not configure one.
const DefaultGraceMinutes = 10

type Status string

const (
	StatusOnTime     Status = "ON_TIME"
	StatusEarlyGrace Status = "EARLY_GRACE"
	StatusLateGrace  Status = "LATE_GRACE"
	StatusViolation  Status = "VIOLATION"
	StatusIncomplete Status = "INCOMPLETE"
)

type Result struct {
	ClockInStatus           Status   `json:"clock_in_status"`
	ClockOutStatus          Status   `json:"clock_out_status"`
	ClockInVarianceMinutes  float64  `json:"clock_in_variance_minutes"`
	ClockOutVarianceMinutes *float64 `json:"clock_out_variance_minutes,omitempty"`
	GraceMinutes            int      `json:"grace_minutes"`
	IsValid                 bool     `json:"is_valid"`
}

// Validate classifies each boundary independently. A missing clock-out is
// INCOMPLETE and does not invalidate the result on its own.
func Validate(actualIn time.Time, actualOut *time.Time, schedStart, schedEnd time.Time, graceMinutes int) Result {
	if graceMinutes < 0 {
		graceMinutes = DefaultGraceMinutes
	}
	grace := time.Duration(graceMinutes) * time.Minute

	delta := actualIn.Sub(schedStart)
	res := Result{
		GraceMinutes:           graceMinutes,
		ClockInStatus:          classify(delta, grace),
		ClockInVarianceMinutes: minutes(delta),
		ClockOutStatus:         StatusIncomplete,
	}
	if actualOut != nil && !actualOut.IsZero() {
		outDelta := actualOut.Sub(schedEnd)
		v := minutes(outDelta)
		res.ClockOutStatus = classify(outDelta, grace)
		res.ClockOutVarianceMinutes = &v
	}
	res.IsValid = res.ClockInStatus != StatusViolation && res.ClockOutStatus != StatusViolation
	return res
}

func classify(delta, grace time.Duration) Status {
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= grace:
		return StatusOnTime
	case abs <= 2*grace:
		if delta < 0 {
			return StatusEarlyGrace
		}
		return StatusLateGrace
	default:
		return StatusViolation
	}
}

func minutes(d time.Duration) float64 {
	return math.Round(d.Minutes()*10) / 10
}
