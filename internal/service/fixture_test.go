package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/repository"
)

type fixture struct {
	db         *gorm.DB
	tasks      *repository.TaskRepository
	categories *repository.CategoryRepository
	rec        *RecurrenceService
	occ        *OccurrenceService
	taskSvc    *TaskService
	user       *model.User
	clock      time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		db:         db,
		tasks:      repository.NewTaskRepository(db),
		categories: repository.NewCategoryRepository(db),
		clock:      now,
	}
	f.rec = NewRecurrenceService(f.tasks, model.WorkspaceLife, 5, time.UTC)
	f.rec.now = func() time.Time { return f.clock }
	f.occ = NewOccurrenceService(f.tasks, f.rec)
	f.occ.now = func() time.Time { return f.clock }
	f.taskSvc = NewTaskService(f.tasks, f.categories, f.rec)

	f.user = &model.User{FirstName: "Test"}
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), f.user))
	return f
}

func (f *fixture) template(t *testing.T, title string, due time.Time, rule recurrence.Rule) *model.Task {
	t.Helper()
	data, err := rule.Encode()
	require.NoError(t, err)
	series := "series-" + title
	tpl := &model.Task{
		UserID:              f.user.ID,
		Workspace:           model.WorkspaceLife,
		Title:               title,
		Description:         title + " notes",
		Tags:                "habit",
		Status:              model.StatusTodo,
		DueAt:               &due,
		IsRecurringTemplate: true,
		RecurrenceRuleJSON:  data,
		RecurringSeriesID:   &series,
	}
	require.NoError(t, f.tasks.Create(context.Background(), tpl))
	return tpl
}

// instances returns the template's non-deleted instances in date order.
func (f *fixture) instances(t *testing.T, templateID uint) []model.Task {
	t.Helper()
	var out []model.Task
	require.NoError(t, f.db.Where("parent_template_id = ?", templateID).Order("occurrence_date ASC").Find(&out).Error)
	return out
}

// everInstances includes soft-deleted rows.
func (f *fixture) everInstances(t *testing.T, templateID uint) []model.Task {
	t.Helper()
	var out []model.Task
	require.NoError(t, f.db.Unscoped().Where("parent_template_id = ?", templateID).Order("occurrence_date ASC").Find(&out).Error)
	return out
}

func dates(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, *task.OccurrenceDate)
	}
	return out
}

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T {
	return &v
}
