package leave

import "time"

// DateOnly drops the clock part, keeping the calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WorkingDays counts Monday–Friday days in [start, end], inclusive.
// It returns 0 when end is before start.
func WorkingDays(start, end time.Time) int {
	start, end = DateOnly(start), DateOnly(end)
	if end.Before(start) {
		return 0
	}
	// Unix seconds rather than Sub: Duration saturates after ~292 years.
	total := int((end.Unix()-start.Unix())/secondsPerDay) + 1
	days := total / 7 * 5
	// The leftover days start on the same weekday as start.
	first := int(start.Weekday())
	for i := 0; i < total%7; i++ {
		switch time.Weekday((first + i) % 7) {
		case time.Saturday, time.Sunday:
		default:
			days++
		}
	}
	return days
}

const secondsPerDay = 24 * 60 * 60

// Overlaps reports whether two inclusive date ranges share at least one day.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !DateOnly(aStart).After(DateOnly(bEnd)) && !DateOnly(aEnd).Before(DateOnly(bStart))
}

// PreviousMonth returns the month before (year, month), wrapping January.
func PreviousMonth(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// MonthRange returns the first and last calendar day of the month.
func MonthRange(year, month int) (time.Time, time.Time) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

func ValidLeaveType(value string) bool {
	for _, t := range LeaveTypes {
		if t == value {
			return true
		}
	}
	return false
}

// transition describes the ledger effect of moving a request between states.
type transition struct {
	usedDelta    int
	pendingDelta int
	// recheck requires the remaining balance to cover the request first.
	recheck bool
	touches bool
}

func reviewTransition(from, to string, days int) transition {
	switch {
	case from == StatusPending && to == StatusApproved:
		return transition{usedDelta: days, pendingDelta: -days, touches: true}
	case from == StatusPending && to == StatusRejected:
		return transition{pendingDelta: -days, touches: true}
	case from == StatusApproved && to == StatusRejected:
		return transition{usedDelta: -days, touches: true}
	case from == StatusRejected && to == StatusApproved:
		return transition{usedDelta: days, recheck: true, touches: true}
	default:
		return transition{}
	}
}
