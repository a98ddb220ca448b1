package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field order of a five-field cron expression, with the legal value
// range for each position.
var cronFieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// cronField is the set of values a single field accepts.
type cronField struct {
	bits     uint64
	wildcard bool // field was exactly "*"
}

func (f cronField) match(v int) bool { return f.bits&(1<<uint(v)) != 0 }

type cronFields struct {
	minute, hour, dom, month, dow cronField
}

// matches reports whether every field accepts the given instant. Both
// day fields have to match, so restricted day-of-month and day-of-week
// combine with AND rather than POSIX cron's OR.
func (c *cronFields) matches(t time.Time) bool {
	return c.minute.match(t.Minute()) &&
		c.hour.match(t.Hour()) &&
		c.dom.match(t.Day()) &&
		c.month.match(int(t.Month())) &&
		c.dow.match(int(t.Weekday()))
}

// ValidateCron reports whether expr is a well-formed five-field cron
// expression: minute hour day-of-month month day-of-week, each field one
// of "*", a single value, a range "a-b" with a <= b, or a step "*/n" or
// "a/n". Fields are checked independently against their value ranges;
// calendar feasibility (such as day 31 in February) is left to the
// resolver, which skips impossible dates while searching forward.
// Malformed input returns false, never an error.
func ValidateCron(expr string) bool {
	_, err := parseCron(expr)
	return err == nil
}

func parseCron(expr string) (*cronFields, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != len(cronFieldBounds) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(cronFieldBounds), len(tokens))
	}

	var parsed [5]cronField
	for i, token := range tokens {
		bounds := cronFieldBounds[i]
		field, err := parseCronField(token, bounds.min, bounds.max)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", bounds.name, token, err)
		}
		parsed[i] = field
	}

	return &cronFields{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

// parseCronField parses a single token into its accepted value set.
func parseCronField(token string, min, max int) (cronField, error) {
	if token == "*" {
		return cronField{bits: rangeBits(min, max, 1), wildcard: true}, nil
	}

	if base, step, ok := strings.Cut(token, "/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 {
			return cronField{}, fmt.Errorf("invalid step %q", step)
		}
		start := min
		if base != "*" {
			start, err = strconv.Atoi(base)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid step base %q", base)
			}
			if start < min || start > max {
				return cronField{}, fmt.Errorf("step base %d out of range %d-%d", start, min, max)
			}
		}
		return cronField{bits: rangeBits(start, max, n)}, nil
	}

	if lo, hi, ok := strings.Cut(token, "-"); ok {
		a, err1 := strconv.Atoi(lo)
		b, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return cronField{}, fmt.Errorf("invalid range")
		}
		if a > b {
			return cronField{}, fmt.Errorf("range start %d after end %d", a, b)
		}
		if a < min || b > max {
			return cronField{}, fmt.Errorf("range %d-%d out of range %d-%d", a, b, min, max)
		}
		return cronField{bits: rangeBits(a, b, 1)}, nil
	}

	v, err := strconv.Atoi(token)
	if err != nil {
		return cronField{}, fmt.Errorf("invalid value")
	}
	if v < min || v > max {
		return cronField{}, fmt.Errorf("value %d out of range %d-%d", v, min, max)
	}
	return cronField{bits: 1 << uint(v)}, nil
}

func rangeBits(from, to, step int) uint64 {
	var bits uint64
	for v := from; v <= to; v += step {
		bits |= 1 << uint(v)
	}
	return bits
}
