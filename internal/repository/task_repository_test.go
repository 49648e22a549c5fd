package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskplanner/internal/model"
)

func newTestDB(t *testing.T) (*TaskRepository, *model.User) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	user := &model.User{FirstName: "Repo"}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return NewTaskRepository(db), user
}

func seedTemplate(t *testing.T, repo *TaskRepository, userID uint) *model.Task {
	t.Helper()
	series := "s-1"
	tpl := &model.Task{
		UserID:              userID,
		Title:               "Water plants",
		IsRecurringTemplate: true,
		RecurrenceRuleJSON:  []byte(`{"frequency":"DAILY","interval":1,"endType":"NEVER"}`),
		RecurringSeriesID:   &series,
	}
	require.NoError(t, repo.Create(context.Background(), tpl))
	return tpl
}

func instanceOf(tpl *model.Task, date string) *model.Task {
	id := tpl.ID
	d := date
	return &model.Task{
		UserID:            tpl.UserID,
		Title:             tpl.Title,
		RecurringSeriesID: tpl.RecurringSeriesID,
		ParentTemplateID:  &id,
		OccurrenceDate:    &d,
	}
}

func TestInsertInstanceKeyIsUnique(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()

	inserted, err := repo.InsertInstance(ctx, instanceOf(tpl, "2025-01-01"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertInstance(ctx, instanceOf(tpl, "2025-01-01"))
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := repo.CountInstances(ctx, tpl.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestInstanceExistsSeesDeletedRows(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()

	inst := instanceOf(tpl, "2025-01-02")
	_, err := repo.InsertInstance(ctx, inst)
	require.NoError(t, err)
	require.NoError(t, repo.SoftDelete(ctx, inst.ID, time.Now()))

	_, err = repo.GetByID(ctx, inst.ID)
	assert.Error(t, err)

	exists, err := repo.InstanceExists(ctx, tpl.ID, "2025-01-02")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.InstanceExists(ctx, tpl.ID, "2025-01-03")
	require.NoError(t, err)
	assert.False(t, exists)

	// The key stays taken after a delete.
	inserted, err := repo.InsertInstance(ctx, instanceOf(tpl, "2025-01-02"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestFindInstancesInSeries(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04"} {
		_, err := repo.InsertInstance(ctx, instanceOf(tpl, d))
		require.NoError(t, err)
	}

	later, err := repo.FindInstancesInSeries(ctx, "s-1", "2025-01-03")
	require.NoError(t, err)
	require.Len(t, later, 2)
	assert.Equal(t, "2025-01-03", *later[0].OccurrenceDate)
	assert.Equal(t, "2025-01-04", *later[1].OccurrenceDate)

	between, err := repo.ListInstancesBetween(ctx, user.ID, "2025-01-02", "2025-01-03")
	require.NoError(t, err)
	assert.Len(t, between, 2)
}

func TestFindActiveTemplatesSkipsDeleted(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()

	got, err := repo.FindActiveTemplates(ctx, model.WorkspaceLife)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, repo.SoftDelete(ctx, tpl.ID, time.Now()))
	got, err = repo.FindActiveTemplates(ctx, model.WorkspaceLife)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWithTxRollsBack(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()
	inst := instanceOf(tpl, "2025-01-01")
	_, err := repo.InsertInstance(ctx, inst)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx *TaskRepository) error {
		if err := tx.SoftDelete(ctx, inst.ID, time.Now()); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetByID(ctx, inst.ID)
	assert.NoError(t, err)
}

func TestListOpenExcludesTemplatesAndDone(t *testing.T) {
	repo, user := newTestDB(t)
	tpl := seedTemplate(t, repo, user.ID)
	ctx := context.Background()

	inst := instanceOf(tpl, "2025-01-01")
	_, err := repo.InsertInstance(ctx, inst)
	require.NoError(t, err)
	done := &model.Task{UserID: user.ID, Title: "Done already"}
	require.NoError(t, repo.Create(ctx, done))
	require.NoError(t, repo.MarkCompleted(ctx, done, time.Now()))

	open, err := repo.ListOpen(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, inst.ID, open[0].ID)
}

func TestUpsertFromTelegram(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	users := NewUserRepository(db)
	ctx := context.Background()

	first, err := users.UpsertFromTelegram(ctx, 42, "Ann", "", "ann")
	require.NoError(t, err)
	second, err := users.UpsertFromTelegram(ctx, 42, "Anna", "", "anna")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Anna", second.FirstName)

	require.NoError(t, users.Create(ctx, &model.User{FirstName: "API"}))
	reachable, err := users.ListTelegram(ctx)
	require.NoError(t, err)
	assert.Len(t, reachable, 1)
}
