package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskplanner/internal/model"
)

// TaskRepository handles CRUD for tasks and the instance store used by the
// recurrence engine. Rows are only ever soft-deleted.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *TaskRepository) WithTx(ctx context.Context, fn func(tx *TaskRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TaskRepository{db: tx})
	})
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	err := retryBusy(ctx, func() error {
		return r.db.WithContext(ctx).Create(task).Error
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Update stores every column of task.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task) error {
	err := retryBusy(ctx, func() error {
		return r.db.WithContext(ctx).Save(task).Error
	})
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// GetByID returns a non-deleted task regardless of owner.
func (r *TaskRepository) GetByID(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListOpen returns the user's schedulable tasks that are not done. Templates
// are never part of the result.
func (r *TaskRepository) ListOpen(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_recurring_template = ? AND status <> ?", userID, false, model.StatusDone).
		Order("due_at NULLS LAST, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTemplates returns the user's non-deleted recurring templates.
func (r *TaskRepository) ListTemplates(ctx context.Context, userID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_recurring_template = ?", userID, true).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListInstancesBetween returns the user's non-deleted instances whose
// occurrence date lies in [fromDate, toDate].
func (r *TaskRepository) ListInstancesBetween(ctx context.Context, userID uint, fromDate, toDate string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND parent_template_id IS NOT NULL AND occurrence_date >= ? AND occurrence_date <= ?", userID, fromDate, toDate).
		Order("occurrence_date ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindActiveTemplates returns every non-deleted template in a workspace.
func (r *TaskRepository) FindActiveTemplates(ctx context.Context, workspace string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("is_recurring_template = ? AND workspace = ?", true, workspace).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	return tasks, nil
}

// InstanceExists reports whether a row was ever materialized for the
// (template, date) key. Soft-deleted rows count.
func (r *TaskRepository) InstanceExists(ctx context.Context, templateID uint, occurrenceDate string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Unscoped().Model(&model.Task{}).
		Where("parent_template_id = ? AND occurrence_date = ?", templateID, occurrenceDate).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("check instance: %w", err)
	}
	return n > 0, nil
}

// CountInstances counts every row ever materialized for a template, deleted or not.
func (r *TaskRepository) CountInstances(ctx context.Context, templateID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Unscoped().Model(&model.Task{}).
		Where("parent_template_id = ?", templateID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// InsertInstance adds an instance row. It reports false when the
// (template, date) key is already taken, which the unique index enforces.
func (r *TaskRepository) InsertInstance(ctx context.Context, task *model.Task) (bool, error) {
	var inserted bool
	err := retryBusy(ctx, func() error {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(task)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	return inserted, nil
}

// SoftDelete stamps deleted_at on a non-deleted task.
func (r *TaskRepository) SoftDelete(ctx context.Context, taskID uint, at time.Time) error {
	err := retryBusy(ctx, func() error {
		return r.db.WithContext(ctx).Model(&model.Task{}).
			Where("id = ?", taskID).
			Update("deleted_at", at).Error
	})
	if err != nil {
		return fmt.Errorf("soft delete task %d: %w", taskID, err)
	}
	return nil
}

// FindInstancesInSeries returns non-deleted instances of a series dated on or
// after fromDate. Dates are stored as YYYY-MM-DD so string order is date order.
func (r *TaskRepository) FindInstancesInSeries(ctx context.Context, seriesID, fromDate string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("recurring_series_id = ? AND is_recurring_template = ? AND occurrence_date >= ?", seriesID, false, fromDate).
		Order("occurrence_date ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find series instances: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) MarkCompleted(ctx context.Context, task *model.Task, completedAt time.Time) error {
	task.Status = model.StatusDone
	task.CompletedAt = &completedAt
	if err := r.Update(ctx, task); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}
