// Package schedule decides whether a run should proceed and keeps two runs
// from overlapping.
package schedule

import (
	"fmt"
	"time"

	"simdasi/internal/config"
)

// IsLastSunday reports whether d is the last Sunday of its month, i.e. a
// Sunday whose date a week later falls in another month.
func IsLastSunday(d time.Time) bool {
	return d.Weekday() == time.Sunday && d.AddDate(0, 0, 7).Month() != d.Month()
}

// Decision is the outcome of Gate.
type Decision struct {
	Proceed bool
	Reason  string
}

// Gate applies gate to the logical run date. A forced (manual) run always
// proceeds.
func Gate(gate string, runDate time.Time, force bool) (Decision, error) {
	if force {
		return Decision{Proceed: true, Reason: "manual run"}, nil
	}
	switch gate {
	case config.GateAlways:
		return Decision{Proceed: true, Reason: "gate disabled"}, nil
	case config.GateLastSunday, "":
		if IsLastSunday(runDate) {
			return Decision{Proceed: true, Reason: "last Sunday of the month"}, nil
		}
		return Decision{Reason: fmt.Sprintf("%s is not the last Sunday of the month", runDate.Format("2006-01-02"))}, nil
	default:
		return Decision{}, fmt.Errorf("schedule: unknown gate %q", gate)
	}
}
