package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = map[Weekday]rrule.Weekday{
	MO: rrule.MO,
	TU: rrule.TU,
	WE: rrule.WE,
	TH: rrule.TH,
	FR: rrule.FR,
	SA: rrule.SA,
	SU: rrule.SU,
}

// Option converts the rule into an rrule-go option set anchored at anchor.
func (r Rule) Option(anchor time.Time) rrule.ROption {
	opt := rrule.ROption{
		Interval: r.Interval,
		Dtstart:  anchor,
		Wkst:     rrule.MO,
	}
	switch r.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		days := r.ByWeekday
		if len(days) == 0 && !anchor.IsZero() {
			days = []Weekday{weekdayOf(anchor.Weekday())}
		}
		for _, d := range days {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if !anchor.IsZero() {
			opt.Bymonthday = []int{anchor.Day()}
		}
	}
	switch r.EndType {
	case EndCount:
		opt.Count = r.Count
	case EndUntil:
		if until, ok := r.Until(); ok {
			loc := time.UTC
			if !anchor.IsZero() {
				loc = anchor.Location()
			}
			opt.Until = time.Date(until.Year(), until.Month(), until.Day(), 23, 59, 59, 0, loc)
		}
	}
	return opt
}

// RRule renders the rule as an RFC 5545 RRULE value, e.g. "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE".
func (r Rule) RRule(anchor time.Time) (string, error) {
	opt := r.Option(anchor)
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("build rrule: %w", err)
	}
	return opt.RRuleString(), nil
}

func weekdayOf(d time.Weekday) Weekday {
	for code, wd := range weekdayCodes {
		if wd == d {
			return code
		}
	}
	return MO
}
