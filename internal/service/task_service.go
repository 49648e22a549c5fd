package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/repository"
)

// TaskInput represents data required to create a task. A non-nil Rule makes
// the task a recurring template.
type TaskInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Tags        string           `json:"tags,omitempty"`
	Workspace   string           `json:"workspace,omitempty"`
	DueAt       *time.Time       `json:"dueAt,omitempty"`
	Rule        *recurrence.Rule `json:"rule,omitempty"`
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	recurrence   *RecurrenceService
}

func NewTaskService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, recurrence *RecurrenceService) *TaskService {
	return &TaskService{taskRepo: taskRepo, categoryRepo: categoryRepo, recurrence: recurrence}
}

// CreateTask stores a plain task or, when input carries a rule, a recurring
// template followed by a materialization pass. Templates are only accepted in
// the workspace the reconciler materializes.
func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidChanges)
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	workspace := input.Workspace
	if workspace == "" {
		workspace = s.defaultWorkspace()
	}
	if input.Rule != nil && s.recurrence != nil && workspace != s.recurrence.workspace {
		return nil, fmt.Errorf("%w: workspace %q is not materialized", ErrRuleNotAllowed, workspace)
	}

	task := model.Task{
		UserID:      user.ID,
		CategoryID:  categoryID,
		Workspace:   workspace,
		Title:       title,
		Description: input.Description,
		Tags:        input.Tags,
		Status:      model.StatusTodo,
		Source:      model.SourceManual,
		DueAt:       input.DueAt,
	}

	if input.Rule != nil {
		data, err := input.Rule.Encode()
		if err != nil {
			return nil, err
		}
		seriesID := uuid.NewString()
		task.IsRecurringTemplate = true
		task.RecurrenceRuleJSON = data
		task.RecurringSeriesID = &seriesID
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}

	if task.IsRecurringTemplate && s.recurrence != nil {
		if _, err := s.recurrence.Refresh(ctx); err != nil {
			log.Printf("[warn] materialize after create template=%d: %v", task.ID, err)
		}
	}

	return &task, nil
}

func (s *TaskService) defaultWorkspace() string {
	if s.recurrence != nil {
		return s.recurrence.workspace
	}
	return model.WorkspaceLife
}

// ListActive brings the horizon up to date and returns the user's open tasks.
// A failed materialization pass is logged; the list is returned anyway.
func (s *TaskService) ListActive(ctx context.Context, user *model.User) ([]model.Task, error) {
	if s.recurrence != nil {
		if _, err := s.recurrence.Refresh(ctx); err != nil {
			log.Printf("[warn] materialize before list user=%d: %v", user.ID, err)
		}
	}
	return s.taskRepo.ListOpen(ctx, user.ID)
}

func (s *TaskService) ListTemplates(ctx context.Context, user *model.User) ([]model.Task, error) {
	return s.taskRepo.ListTemplates(ctx, user.ID)
}

// ListOccurrences returns the user's materialized occurrences dated in [from, to].
func (s *TaskService) ListOccurrences(ctx context.Context, user *model.User, from, to time.Time) ([]model.Task, error) {
	return s.taskRepo.ListInstancesBetween(ctx, user.ID, recurrence.DateKey(from), recurrence.DateKey(to))
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrTaskNotFound, taskID)
	}
	return task, err
}

// CompleteTask marks a task done. Templates are not schedulable and cannot be completed.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint, completedAt time.Time) (*model.Task, error) {
	task, err := s.GetTask(ctx, user, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsRecurringTemplate {
		return nil, fmt.Errorf("%w: a series template cannot be completed", ErrInvalidChanges)
	}
	if err := s.taskRepo.MarkCompleted(ctx, task, completedAt); err != nil {
		return nil, err
	}
	return task, nil
}
