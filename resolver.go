package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// searchHorizonYears bounds the forward scan for Cron descriptors. An
// expression with no match within four years of the reference instant is
// treated as unsatisfiable.
const searchHorizonYears = 4

// cronParser accepts the standard five fields, no seconds.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextFireTime computes the next instant strictly after ref at which d
// should fire. It is a pure function of its arguments. The calendar
// variants always produce a time; Cron returns nil when the expression
// is invalid or has no match within the search horizon.
func NextFireTime(d Descriptor, ref time.Time) *time.Time {
	next, ok := d.next(ref)
	if !ok {
		return nil
	}
	return &next
}

func (d Daily) next(ref time.Time) (time.Time, bool) {
	loc := zoneOf(d.Zone)
	ref = ref.In(loc)
	cand := time.Date(ref.Year(), ref.Month(), ref.Day(), d.At.Hour, d.At.Minute, 0, 0, loc)
	if !cand.After(ref) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand, true
}

func (w Weekly) next(ref time.Time) (time.Time, bool) {
	loc := zoneOf(w.Zone)
	ref = ref.In(loc)
	offset := (int(w.Weekday) - int(ref.Weekday()) + 7) % 7
	cand := time.Date(ref.Year(), ref.Month(), ref.Day()+offset, w.At.Hour, w.At.Minute, 0, 0, loc)
	if !cand.After(ref) {
		cand = cand.AddDate(0, 0, 7)
	}
	return cand, true
}

func (m Monthly) next(ref time.Time) (time.Time, bool) {
	return nextMonthly(ref, m.Day, m.At, zoneOf(m.Zone), 1), true
}

func (q Quarterly) next(ref time.Time) (time.Time, bool) {
	return nextMonthly(ref, q.Day, q.At, zoneOf(q.Zone), 3), true
}

// nextMonthly finds the first month at the given step whose day-of-month
// exists and whose candidate falls strictly after ref. Months too short
// for the day are skipped, never clamped. The search is bounded: every
// step sequence reaches a 31-day month within a year.
func nextMonthly(ref time.Time, day int, at TimeOfDay, loc *time.Location, stepMonths int) time.Time {
	ref = ref.In(loc)
	year, month := ref.Year(), ref.Month()
	for {
		if day <= daysIn(year, month, loc) {
			cand := time.Date(year, month, day, at.Hour, at.Minute, 0, 0, loc)
			if cand.After(ref) {
				return cand
			}
		}
		// time.Date normalizes months past December into the next year.
		next := time.Date(year, month+time.Month(stepMonths), 1, 0, 0, 0, 0, loc)
		year, month = next.Year(), next.Month()
	}
}

// daysIn reports the number of days in the given month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func (c Cron) next(ref time.Time) (time.Time, bool) {
	fields, err := parseCron(c.Expression)
	if err != nil {
		return time.Time{}, false
	}

	loc := zoneOf(c.Zone)
	ref = ref.In(loc)
	horizon := ref.AddDate(searchHorizonYears, 0, 0)

	// With at least one day field unrestricted, POSIX day-field OR and
	// our AND agree, so robfig's field-wise next-match gives the same
	// answer without scanning.
	if fields.dom.wildcard || fields.dow.wildcard {
		sched, err := cronParser.Parse(c.Expression)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(ref)
		if next.IsZero() || next.After(horizon) {
			return time.Time{}, false
		}
		return next, true
	}

	// Both day fields restricted: both must match, which robfig cannot
	// express. Scan minute by minute up to the horizon.
	for t := ref.Truncate(time.Minute).Add(time.Minute); !t.After(horizon); t = t.Add(time.Minute) {
		if fields.matches(t) {
			return t, true
		}
	}
	return time.Time{}, false
}
