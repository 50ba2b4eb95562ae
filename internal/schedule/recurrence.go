// Package schedule translates cron expressions into Azure ML recurrences.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sourceplane/mlpipe/internal/model"
)

// starBit mirrors the bit cron sets on fields written as "*" or "?".
const starBit = 1 << 63

// Frequencies understood by the platform.
const (
	FrequencyHour = "Hour"
	FrequencyDay  = "Day"
	FrequencyWeek = "Week"
)

var weekDays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Spec is a parsed schedule expression.
type Spec struct {
	Expression string
	Recurrence model.Recurrence
	schedule   cron.Schedule
}

// Next returns the next fire time after t.
func (s *Spec) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Parse parses a standard five-field cron expression (or a descriptor such as
// @daily) and converts it to a recurrence. Expressions restricting the day of
// month or the month cannot be expressed and are rejected.
func Parse(expr string) (*Spec, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("schedule %q: only calendar expressions are supported", expr)
	}
	if spec.Dom&starBit == 0 {
		return nil, fmt.Errorf("schedule %q: day-of-month restrictions are not supported", expr)
	}
	if spec.Month&starBit == 0 {
		return nil, fmt.Errorf("schedule %q: month restrictions are not supported", expr)
	}
	if spec.Minute&starBit != 0 {
		return nil, fmt.Errorf("schedule %q: must fire at fixed minutes", expr)
	}

	rec := model.Recurrence{
		Interval: 1,
		Minutes:  bits(spec.Minute, 0, 59),
	}
	switch {
	case spec.Dow&starBit == 0:
		rec.Frequency = FrequencyWeek
		rec.Hours = bits(spec.Hour, 0, 23)
		for _, d := range bits(spec.Dow, 0, 6) {
			rec.WeekDays = append(rec.WeekDays, weekDays[d])
		}
	case spec.Hour&starBit != 0:
		rec.Frequency = FrequencyHour
	default:
		rec.Frequency = FrequencyDay
		rec.Hours = bits(spec.Hour, 0, 23)
	}

	return &Spec{Expression: expr, Recurrence: rec, schedule: sched}, nil
}

func bits(field uint64, min, max int) []int {
	var out []int
	for i := min; i <= max; i++ {
		if field&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}
