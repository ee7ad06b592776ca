package compliance

import "time"

const (
	// InspectionWindow is the base time allowed between a triggering event and
	// the inspection.
	InspectionWindow = 24 * time.Hour

	// WorkdayStartHour and WorkdayEndHour bound the working day, [07:00, 17:00).
	WorkdayStartHour = 7
	WorkdayEndHour   = 17
)

// DeadlineCalculator converts trigger times into inspection deadlines and
// answers the working-hours question, both in a fixed local zone.
type DeadlineCalculator struct {
	loc *time.Location
}

// NewDeadlineCalculator returns a calculator for loc. A nil loc means UTC.
func NewDeadlineCalculator(loc *time.Location) *DeadlineCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return &DeadlineCalculator{loc: loc}
}

// Location returns the zone deadlines are computed in.
func (c *DeadlineCalculator) Location() *time.Location {
	return c.loc
}

// ComputeDeadline returns the inspection deadline for an event at eventTime.
//
// The raw deadline is eventTime + 24h. Hour adjustment first: before 07:00
// moves to 07:00 the same day, 17:00 or later moves to 07:00 the next day.
// Weekend adjustment second, on the adjusted date: Saturday moves two days and
// Sunday one day, both to 07:00 Monday.
//
// The result is always after eventTime. Thursday 17:00 rolling to Monday
// 07:00 is the longest case: 86h, or 87h when a DST fall-back lands on
// that weekend.
func (c *DeadlineCalculator) ComputeDeadline(eventTime time.Time) time.Time {
	deadline := eventTime.In(c.loc).Add(InspectionWindow)

	switch {
	case deadline.Hour() < WorkdayStartHour:
		deadline = c.workdayStart(deadline, 0)
	case deadline.Hour() >= WorkdayEndHour:
		deadline = c.workdayStart(deadline, 1)
	}

	switch deadline.Weekday() {
	case time.Saturday:
		deadline = c.workdayStart(deadline, 2)
	case time.Sunday:
		deadline = c.workdayStart(deadline, 1)
	}

	return deadline
}

// IsWorkingHours reports whether t falls on a weekday between 07:00 and 17:00
// local time.
func (c *DeadlineCalculator) IsWorkingHours(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := local.Hour()
	return h >= WorkdayStartHour && h < WorkdayEndHour
}

// workdayStart returns 07:00 on the day addDays after t's local date. Using
// time.Date keeps the wall clock correct across DST transitions.
func (c *DeadlineCalculator) workdayStart(t time.Time, addDays int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+addDays, WorkdayStartHour, 0, 0, 0, c.loc)
}
