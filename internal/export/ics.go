// Package export renders tasks as iCalendar feeds.
package export

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
)

const (
	productID     = "-//taskplanner//planner export//RU"
	uidDomain     = "taskplanner"
	eventDuration = 30 * time.Minute
)

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return cal
}

// Occurrences renders dated tasks as single VEVENTs. Instances are exported
// as they are stored, overrides included; tasks without a due date and
// templates are skipped.
func Occurrences(name string, tasks []model.Task, categories map[uint]string, stamp time.Time) string {
	cal := newCalendar(name)
	for _, task := range tasks {
		if task.IsRecurringTemplate || task.DueAt == nil {
			continue
		}
		ev := cal.AddEvent(fmt.Sprintf("task-%d@%s", task.ID, uidDomain))
		fill(ev, task, categories, stamp)
		start := task.DueAt.UTC()
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(eventDuration))
		if task.RecurringSeriesID != nil {
			ev.SetProperty(ical.ComponentProperty("X-TASKPLANNER-SERIES"), *task.RecurringSeriesID)
		}
	}
	return cal.Serialize()
}

// Series renders each template as one VEVENT carrying its RRULE, so that
// calendar clients expand the series themselves.
func Series(name string, templates []model.Task, categories map[uint]string, stamp time.Time) (string, error) {
	cal := newCalendar(name)
	for _, tpl := range templates {
		if !tpl.IsRecurringTemplate {
			continue
		}
		rule, err := recurrence.Parse(tpl.RecurrenceRuleJSON)
		if err != nil {
			return "", fmt.Errorf("template %d: %w", tpl.ID, err)
		}
		anchor := tpl.Anchor()
		if rule.TimeOfDay != nil {
			anchor = recurrence.DueAt(anchor, rule, anchor)
		}
		rrule, err := rule.RRule(anchor.UTC())
		if err != nil {
			return "", fmt.Errorf("template %d: %w", tpl.ID, err)
		}

		ev := cal.AddEvent(fmt.Sprintf("series-%s@%s", tpl.SeriesID(), uidDomain))
		fill(ev, tpl, categories, stamp)
		ev.SetStartAt(anchor.UTC())
		ev.SetEndAt(anchor.UTC().Add(eventDuration))
		ev.AddRrule(rrule)
	}
	return cal.Serialize(), nil
}

func fill(ev *ical.VEvent, task model.Task, categories map[uint]string, stamp time.Time) {
	ev.SetDtStampTime(stamp.UTC())
	ev.SetCreatedTime(task.CreatedAt.UTC())
	ev.SetModifiedAt(task.UpdatedAt.UTC())
	ev.SetSummary(task.Title)
	if task.Description != "" {
		ev.SetDescription(task.Description)
	}
	if task.CategoryID != nil {
		if name := categories[*task.CategoryID]; name != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, name)
		}
	}
	ev.SetProperty(ical.ComponentProperty("X-TASKPLANNER-ID"), strconv.FormatUint(uint64(task.ID), 10))
}
