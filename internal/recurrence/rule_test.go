package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadRules(t *testing.T) {
	cases := map[string]Rule{
		"zero interval":      {Frequency: Daily, Interval: 0, EndType: EndNever},
		"negative interval":  {Frequency: Weekly, Interval: -2, EndType: EndNever},
		"unknown frequency":  {Frequency: "YEARLY", Interval: 1, EndType: EndNever},
		"count without n":    {Frequency: Daily, Interval: 1, EndType: EndCount},
		"until without date": {Frequency: Daily, Interval: 1, EndType: EndUntil},
		"until bad date":     {Frequency: Daily, Interval: 1, EndType: EndUntil, UntilDate: "31.01.2025"},
		"bad weekday":        {Frequency: Weekly, Interval: 1, ByWeekday: []Weekday{"XX"}, EndType: EndNever},
		"unknown end":        {Frequency: Daily, Interval: 1, EndType: "SOMETIMES"},
	}
	for name, rule := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
			_, err := rule.Encode()
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestNormalizeDropsStrayFields(t *testing.T) {
	r := Rule{
		Frequency: Daily,
		Interval:  1,
		ByWeekday: []Weekday{MO},
		EndType:   EndNever,
		Count:     4,
		UntilDate: "2025-01-01",
	}.Normalize()
	assert.Zero(t, r.Count)
	assert.Empty(t, r.UntilDate)
	assert.Nil(t, r.ByWeekday)

	r = Rule{Frequency: Weekly, Interval: 1, ByWeekday: []Weekday{MO, WE, MO}}.Normalize()
	assert.Equal(t, EndNever, r.EndType)
	assert.Equal(t, []Weekday{MO, WE}, r.ByWeekday)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	rule := Rule{
		Frequency: Weekly,
		Interval:  2,
		ByWeekday: []Weekday{MO, FR},
		TimeOfDay: &TimeOfDay{Hour: 9, Minute: 30},
		EndType:   EndCount,
		Count:     10,
	}
	data, err := rule.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timeOfDay":"09:30"`)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, rule, parsed)
}

func TestParseNormalizesCountAway(t *testing.T) {
	parsed, err := Parse([]byte(`{"frequency":"DAILY","interval":1,"endType":"NEVER","count":5}`))
	require.NoError(t, err)
	assert.Zero(t, parsed.Count)
}

func TestParseFailures(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":         ``,
		"not json":      `{frequency`,
		"zero interval": `{"frequency":"DAILY","interval":0,"endType":"NEVER"}`,
		"bad time":      `{"frequency":"DAILY","interval":1,"timeOfDay":"25:00"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.ErrorIs(t, err, ErrDecodeRule)
		})
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]Weekday{"mo": MO, "Tuesday": TU, " sun ": SU, "FR": FR} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseWeekday("x")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRRuleText(t *testing.T) {
	anchor := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	text, err := Rule{Frequency: Weekly, Interval: 1, ByWeekday: []Weekday{MO, WE}, EndType: EndNever}.RRule(anchor)
	require.NoError(t, err)
	assert.Contains(t, text, "FREQ=WEEKLY")
	assert.Contains(t, text, "BYDAY=MO,WE")

	text, err = Rule{Frequency: Daily, Interval: 2, EndType: EndCount, Count: 3}.RRule(anchor)
	require.NoError(t, err)
	assert.Contains(t, text, "FREQ=DAILY")
	assert.Contains(t, text, "INTERVAL=2")
	assert.Contains(t, text, "COUNT=3")
}
