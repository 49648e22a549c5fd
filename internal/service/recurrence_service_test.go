package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
)

var daily = recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, EndType: recurrence.EndNever}

func TestEnsureDailyFiveDays(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Created)

	got := f.instances(t, tpl.ID)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05"}, dates(got))
	for _, inst := range got {
		assert.Equal(t, "Gym", inst.Title)
		assert.Equal(t, "Gym notes", inst.Description)
		assert.Equal(t, "habit", inst.Tags)
		assert.Equal(t, model.StatusTodo, inst.Status)
		assert.False(t, inst.IsRecurringTemplate)
		assert.False(t, inst.IsOccurrenceOverride)
		assert.Equal(t, "series-Gym", *inst.RecurringSeriesID)
		assert.Equal(t, 9, inst.DueAt.UTC().Hour())
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	first := f.instances(t, tpl.ID)

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, dates(first), dates(f.instances(t, tpl.ID)))
}

func TestEnsureWeeklyTwoWeekdays(t *testing.T) {
	// 2025-01-06 is a Monday.
	f := newFixture(t, at("2025-01-06 07:00"))
	rule := recurrence.Rule{
		Frequency: recurrence.Weekly,
		Interval:  1,
		ByWeekday: []recurrence.Weekday{recurrence.MO, recurrence.WE},
		EndType:   recurrence.EndNever,
	}
	tpl := f.template(t, "Lecture", at("2025-01-06 10:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 14)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-01-08", "2025-01-13", "2025-01-15"}, dates(f.instances(t, tpl.ID)))
}

func TestEnsureMonthlyNoClamping(t *testing.T) {
	f := newFixture(t, at("2025-02-01 08:00"))
	rule := recurrence.Rule{Frequency: recurrence.Monthly, Interval: 1, EndType: recurrence.EndNever}
	tpl := f.template(t, "Rent", at("2025-01-31 12:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 59)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-31"}, dates(f.instances(t, tpl.ID)))
}

func TestEnsureCountHoldsAcrossRuns(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	rule := recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, EndType: recurrence.EndCount, Count: 3}
	tpl := f.template(t, "Pills", at("2025-01-01 09:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, f.instances(t, tpl.ID), 3)

	f.clock = at("2025-01-02 08:00")
	_, err = f.rec.EnsureRecurringInstances(context.Background(), 60)
	require.NoError(t, err)

	got := f.instances(t, tpl.ID)
	_, err = f.occ.DeleteOccurrence(context.Background(), got[2].ID, DeleteInstance)
	require.NoError(t, err)

	_, err = f.rec.EnsureRecurringInstances(context.Background(), 90)
	require.NoError(t, err)
	assert.Len(t, f.everInstances(t, tpl.ID), 3)
	assert.Len(t, f.instances(t, tpl.ID), 2)
}

func TestEnsureCountWithPastAnchor(t *testing.T) {
	f := newFixture(t, at("2025-01-10 08:00"))
	rule := recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, EndType: recurrence.EndCount, Count: 3}
	tpl := f.template(t, "Pills", at("2025-01-08 09:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10", "2025-01-11", "2025-01-12"}, dates(f.everInstances(t, tpl.ID)))

	// Later passes do not go past the cap.
	f.clock = at("2025-01-20 08:00")
	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Len(t, f.everInstances(t, tpl.ID), 3)
}

func TestEnsureCountWeeklyPastAnchorKeepsPhase(t *testing.T) {
	// Anchored on Monday 2025-01-06, every other week; 2025-01-13 is off-phase.
	f := newFixture(t, at("2025-01-13 08:00"))
	rule := recurrence.Rule{
		Frequency: recurrence.Weekly,
		Interval:  2,
		ByWeekday: []recurrence.Weekday{recurrence.MO},
		EndType:   recurrence.EndCount,
		Count:     2,
	}
	tpl := f.template(t, "Review", at("2025-01-06 10:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-20", "2025-02-03"}, dates(f.everInstances(t, tpl.ID)))
}

func TestEnsureCountIncludesRowsFromOldRule(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Pills", at("2025-01-01 09:00"), daily)
	_, err := f.rec.EnsureRecurringInstances(context.Background(), 4)
	require.NoError(t, err)

	// Moving the anchor and capping the series must not allow more rows than the cap.
	rule := recurrence.Rule{Frequency: recurrence.Daily, Interval: 1, EndType: recurrence.EndCount, Count: 5}
	_, err = f.occ.EditOccurrence(context.Background(), tpl.ID, TaskChanges{
		DueAt: ptr(at("2025-01-10 09:00")),
		Rule:  &rule,
	}, EditUnspecified)
	require.NoError(t, err)

	f.clock = at("2025-01-10 08:00")
	_, err = f.rec.EnsureRecurringInstances(context.Background(), 30)
	require.NoError(t, err)
	assert.Len(t, f.everInstances(t, tpl.ID), 5)
}

func TestEnsureNeverBackfills(t *testing.T) {
	f := newFixture(t, at("2025-01-10 18:00"))
	tpl := f.template(t, "Journal", at("2024-12-01 21:00"), daily)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10", "2025-01-11", "2025-01-12"}, dates(f.instances(t, tpl.ID)))
}

func TestEnsureFutureAnchorStartsAtAnchor(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Trip", at("2025-01-04 06:00"), daily)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-04", "2025-01-05"}, dates(f.instances(t, tpl.ID)))
}

func TestEnsureDoesNotRecreateDeletedDate(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)
	_, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)

	third := f.instances(t, tpl.ID)[2]
	_, err = f.occ.DeleteOccurrence(context.Background(), third.ID, DeleteInstance)
	require.NoError(t, err)

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-04", "2025-01-05"}, dates(f.instances(t, tpl.ID)))
}

func TestEnsureSkipsMalformedRule(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	broken := f.template(t, "Broken", at("2025-01-01 09:00"), daily)
	require.NoError(t, f.db.Model(broken).Update("recurrence_rule_json", datatypes.JSON(`{"frequency":`)).Error)
	good := f.template(t, "Good", at("2025-01-01 09:00"), daily)

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Templates)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Created)
	assert.Empty(t, f.instances(t, broken.ID))
	assert.Len(t, f.instances(t, good.ID), 2)
}

func TestEnsureIgnoresOtherWorkspacesAndDeletedTemplates(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	school := f.template(t, "Homework", at("2025-01-01 09:00"), daily)
	require.NoError(t, f.db.Model(school).Update("workspace", model.WorkspaceSchool).Error)
	gone := f.template(t, "Gone", at("2025-01-01 09:00"), daily)
	require.NoError(t, f.tasks.SoftDelete(context.Background(), gone.ID, f.clock))

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 3)
	require.NoError(t, err)
	assert.Zero(t, stats.Templates)
	assert.Empty(t, f.everInstances(t, school.ID))
	assert.Empty(t, f.everInstances(t, gone.ID))
}

func TestEnsureZeroHorizon(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)

	stats, err := f.rec.EnsureRecurringInstances(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Empty(t, f.instances(t, tpl.ID))
}

func TestEnsureTimeOfDayOverridesAnchorClock(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	rule := daily
	rule.TimeOfDay = &recurrence.TimeOfDay{Hour: 6, Minute: 45}
	tpl := f.template(t, "Run", at("2025-01-01 20:00"), rule)

	_, err := f.rec.EnsureRecurringInstances(context.Background(), 1)
	require.NoError(t, err)
	got := f.instances(t, tpl.ID)
	require.Len(t, got, 1)
	assert.Equal(t, at("2025-01-01 06:45"), got[0].DueAt.UTC())
}

// blindStore hides existing rows from the reconciler, like a concurrent pass
// that checked before the other one inserted.
type blindStore struct {
	InstanceStore
}

func (blindStore) InstanceExists(context.Context, uint, string) (bool, error) {
	return false, nil
}

func TestEnsureUniqueKeyAbsorbsCheckThenInsertRace(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)
	_, err := f.rec.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)

	blind := NewRecurrenceService(blindStore{f.tasks}, model.WorkspaceLife, 5, time.UTC)
	blind.now = f.rec.now
	stats, err := blind.EnsureRecurringInstances(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Len(t, f.everInstances(t, tpl.ID), 5)
}

func TestEnsureConcurrentPassesKeepKeysUnique(t *testing.T) {
	f := newFixture(t, at("2025-01-01 08:00"))
	tpl := f.template(t, "Gym", at("2025-01-01 09:00"), daily)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.EnsureRecurringInstances(context.Background(), 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := f.everInstances(t, tpl.ID)
	assert.Len(t, got, 10)
	seen := map[string]bool{}
	for _, d := range dates(got) {
		assert.False(t, seen[d], "duplicate occurrence %s", d)
		seen[d] = true
	}
}
