package schedule

import (
	"fmt"
	"time"
)

// Frequency identifies a descriptor variant. Stores persist it to
// round-trip a descriptor.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyCustom    Frequency = "custom"
)

// TimeOfDay is a wall-clock time in a descriptor's zone.
type TimeOfDay struct {
	Hour   int // 0-23
	Minute int // 0-59
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour out of range: %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute out of range: %d", t.Minute)
	}
	return nil
}

// Descriptor is an authored recurrence rule. Exactly five variants exist:
// Daily, Weekly, Monthly, Quarterly and Cron. Each variant carries only
// the anchor fields that are meaningful for it, so a descriptor cannot
// mix, say, a weekday anchor with a monthly cadence.
//
// A nil Zone on any variant means UTC.
type Descriptor interface {
	// Frequency reports which variant this is.
	Frequency() Frequency

	// Validate checks the variant's anchor fields against their legal
	// ranges. NextFireTime assumes a validated descriptor for the
	// calendar variants.
	Validate() error

	next(ref time.Time) (time.Time, bool)
}

// Daily fires every day at a fixed wall-clock time.
type Daily struct {
	At   TimeOfDay
	Zone *time.Location
}

// Weekly fires once a week on Weekday at a fixed wall-clock time.
type Weekly struct {
	At      TimeOfDay
	Weekday time.Weekday // 0 = Sunday
	Zone    *time.Location
}

// Monthly fires on Day of every month at a fixed wall-clock time. Months
// too short for Day are skipped, so Day 31 fires only in 31-day months.
type Monthly struct {
	At   TimeOfDay
	Day  int // 1-31
	Zone *time.Location
}

// Quarterly fires on Day every third month at a fixed wall-clock time.
// The cadence is anchored on the candidate month, so successive fire
// times are exactly three calendar months apart.
type Quarterly struct {
	At   TimeOfDay
	Day  int // 1-31
	Zone *time.Location
}

// Cron fires according to a five-field cron expression
// (minute hour day-of-month month day-of-week).
//
// When both day fields are restricted the schedule fires only when BOTH
// match, unlike POSIX cron which fires when either does. An expression
// that can never match under that interpretation resolves to no next
// fire time once the search horizon is exhausted.
type Cron struct {
	Expression string
	Zone       *time.Location
}

func (Daily) Frequency() Frequency { return FrequencyDaily }

func (Weekly) Frequency() Frequency { return FrequencyWeekly }

func (Monthly) Frequency() Frequency { return FrequencyMonthly }

func (Quarterly) Frequency() Frequency { return FrequencyQuarterly }

func (Cron) Frequency() Frequency { return FrequencyCustom }

func (d Daily) Validate() error { return d.At.validate() }

func (w Weekly) Validate() error {
	if err := w.At.validate(); err != nil {
		return err
	}
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("weekday out of range: %d", w.Weekday)
	}
	return nil
}

func (m Monthly) Validate() error {
	if err := m.At.validate(); err != nil {
		return err
	}
	return validateDayOfMonth(m.Day)
}

func (q Quarterly) Validate() error {
	if err := q.At.validate(); err != nil {
		return err
	}
	return validateDayOfMonth(q.Day)
}

func (c Cron) Validate() error {
	if !ValidateCron(c.Expression) {
		return fmt.Errorf("invalid cron expression %q", c.Expression)
	}
	return nil
}

func validateDayOfMonth(day int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("day of month out of range: %d", day)
	}
	return nil
}

func zoneOf(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
