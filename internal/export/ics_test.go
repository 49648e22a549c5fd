package export

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
)

var stamp = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, body string) []*ical.VEvent {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	require.NoError(t, err)
	return cal.Events()
}

func value(ev *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ev.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func TestOccurrencesSkipsUndatedAndTemplates(t *testing.T) {
	due := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	series := "abc"
	catID := uint(7)
	tasks := []model.Task{
		{ID: 1, Title: "Gym", DueAt: &due, RecurringSeriesID: &series, CategoryID: &catID},
		{ID: 2, Title: "Someday"},
		{ID: 3, Title: "Template", DueAt: &due, IsRecurringTemplate: true},
	}

	events := parse(t, Occurrences("Planner", tasks, map[uint]string{7: "Sport"}, stamp))
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "task-1@taskplanner", ev.Id())
	assert.Equal(t, "Gym", value(ev, ical.ComponentPropertySummary))
	assert.Equal(t, "Sport", value(ev, ical.ComponentPropertyCategories))
	assert.Equal(t, "20250102T090000Z", value(ev, ical.ComponentPropertyDtStart))
	assert.Equal(t, "abc", value(ev, ical.ComponentProperty("X-TASKPLANNER-SERIES")))
}

func TestSeriesCarriesRRule(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	rule := recurrence.Rule{
		Frequency: recurrence.Weekly,
		Interval:  1,
		ByWeekday: []recurrence.Weekday{recurrence.MO, recurrence.WE},
		EndType:   recurrence.EndCount,
		Count:     6,
	}
	data, err := rule.Encode()
	require.NoError(t, err)
	series := "lectures"
	templates := []model.Task{{
		ID:                  5,
		Title:               "Lecture",
		DueAt:               &anchor,
		IsRecurringTemplate: true,
		RecurrenceRuleJSON:  data,
		RecurringSeriesID:   &series,
	}}

	body, err := Series("Series", templates, nil, stamp)
	require.NoError(t, err)
	events := parse(t, body)
	require.Len(t, events, 1)

	assert.Equal(t, "series-lectures@taskplanner", events[0].Id())
	got := value(events[0], ical.ComponentPropertyRrule)
	assert.Contains(t, got, "FREQ=WEEKLY")
	assert.Contains(t, got, "COUNT=6")
	assert.Contains(t, got, "BYDAY=MO")
	assert.Equal(t, "20250106T100000Z", value(events[0], ical.ComponentPropertyDtStart))
}

func TestSeriesRejectsBrokenRule(t *testing.T) {
	templates := []model.Task{{ID: 9, Title: "Broken", IsRecurringTemplate: true, RecurrenceRuleJSON: []byte(`{`)}}
	_, err := Series("Series", templates, nil, stamp)
	assert.ErrorIs(t, err, recurrence.ErrDecodeRule)
}
