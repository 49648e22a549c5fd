package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/repository"
)

var (
	// ErrScopeRequired means the task is an occurrence of a series and the
	// caller has to choose between the single occurrence and the series.
	ErrScopeRequired = errors.New("occurrence scope required")
	ErrTaskNotFound  = errors.New("task not found")
	// ErrRuleNotAllowed is returned when a rule change targets anything but a series.
	ErrRuleNotAllowed = errors.New("recurrence rule can only change on a series")
	ErrInvalidScope   = errors.New("invalid scope")
	ErrInvalidChanges = errors.New("invalid changes")
)

// EditScope selects what an edit of an occurrence applies to.
type EditScope string

const (
	EditUnspecified EditScope = ""
	EditInstance    EditScope = "instance"
	EditSeries      EditScope = "series"
)

// DeleteScope selects what a delete of an occurrence removes.
type DeleteScope string

const (
	DeleteUnspecified    DeleteScope = ""
	DeleteInstance       DeleteScope = "instance"
	DeleteSeriesFromHere DeleteScope = "seriesFromHere"
)

// TaskChanges lists the fields an edit sets; nil fields are left alone.
type TaskChanges struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Tags        *string          `json:"tags,omitempty"`
	Status      *string          `json:"status,omitempty"`
	CategoryID  *uint            `json:"categoryId,omitempty"`
	DueAt       *time.Time       `json:"dueAt,omitempty"`
	Rule        *recurrence.Rule `json:"rule,omitempty"`
}

func (c TaskChanges) validate() error {
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidChanges)
	}
	if c.Status != nil {
		switch *c.Status {
		case model.StatusTodo, model.StatusDoing, model.StatusDone:
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidChanges, *c.Status)
		}
	}
	return nil
}

func (c TaskChanges) apply(task *model.Task) error {
	if c.Title != nil {
		task.Title = strings.TrimSpace(*c.Title)
	}
	if c.Description != nil {
		task.Description = *c.Description
	}
	if c.Tags != nil {
		task.Tags = *c.Tags
	}
	if c.Status != nil {
		task.Status = *c.Status
	}
	if c.CategoryID != nil {
		task.CategoryID = c.CategoryID
	}
	if c.DueAt != nil {
		due := *c.DueAt
		task.DueAt = &due
	}
	if c.Rule != nil {
		data, err := c.Rule.Encode()
		if err != nil {
			return err
		}
		task.RecurrenceRuleJSON = data
	}
	return nil
}

// OccurrenceService routes edits and deletes of tasks that may belong to a
// recurring series.
type OccurrenceService struct {
	tasks      *repository.TaskRepository
	recurrence *RecurrenceService
	now        func() time.Time
}

func NewOccurrenceService(tasks *repository.TaskRepository, recurrence *RecurrenceService) *OccurrenceService {
	return &OccurrenceService{tasks: tasks, recurrence: recurrence, now: time.Now}
}

func (s *OccurrenceService) load(ctx context.Context, taskID uint) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// EditOccurrence applies changes to a task. Plain tasks and templates are
// edited directly. An occurrence needs a scope: EditInstance marks it as an
// override, EditSeries edits its template and materializes the horizon again.
// Rows that already exist are never rewritten by a series edit.
func (s *OccurrenceService) EditOccurrence(ctx context.Context, taskID uint, changes TaskChanges, scope EditScope) (*model.Task, error) {
	if err := changes.validate(); err != nil {
		return nil, err
	}
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsInstance() {
		if changes.Rule != nil && !task.IsRecurringTemplate {
			return nil, ErrRuleNotAllowed
		}
		if err := s.save(ctx, task, changes); err != nil {
			return nil, err
		}
		if task.IsRecurringTemplate {
			if err := s.rematerialize(ctx); err != nil {
				return task, err
			}
		}
		return task, nil
	}

	switch scope {
	case EditUnspecified:
		return nil, ErrScopeRequired
	case EditInstance:
		if changes.Rule != nil {
			return nil, ErrRuleNotAllowed
		}
		task.IsOccurrenceOverride = true
		if err := s.save(ctx, task, changes); err != nil {
			return nil, err
		}
		log.Printf("[info] occurrence overridden id=%d template=%d date=%s", task.ID, *task.ParentTemplateID, deref(task.OccurrenceDate))
		return task, nil
	case EditSeries:
		tpl, err := s.load(ctx, *task.ParentTemplateID)
		if err != nil {
			return nil, err
		}
		if err := s.save(ctx, tpl, changes); err != nil {
			return nil, err
		}
		log.Printf("[info] series edited template=%d via occurrence=%d", tpl.ID, task.ID)
		if err := s.rematerialize(ctx); err != nil {
			return tpl, err
		}
		return tpl, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

func (s *OccurrenceService) save(ctx context.Context, task *model.Task, changes TaskChanges) error {
	if err := changes.apply(task); err != nil {
		return err
	}
	return s.tasks.Update(ctx, task)
}

func (s *OccurrenceService) rematerialize(ctx context.Context) error {
	if s.recurrence == nil {
		return nil
	}
	if _, err := s.recurrence.Refresh(ctx); err != nil {
		return fmt.Errorf("rematerialize: %w", err)
	}
	return nil
}

// DeleteOccurrence soft-deletes a task and returns how many rows it removed.
// For an occurrence, DeleteInstance removes only that row and
// DeleteSeriesFromHere also removes every later sibling in the series. The
// template and earlier occurrences are left alone. Plain tasks and templates
// are deleted directly; a deleted template stops producing instances.
func (s *OccurrenceService) DeleteOccurrence(ctx context.Context, taskID uint, scope DeleteScope) (int, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return 0, err
	}
	now := s.now()

	if !task.IsInstance() {
		if err := s.tasks.SoftDelete(ctx, task.ID, now); err != nil {
			return 0, err
		}
		return 1, nil
	}

	switch scope {
	case DeleteUnspecified:
		return 0, ErrScopeRequired
	case DeleteInstance:
		if err := s.tasks.SoftDelete(ctx, task.ID, now); err != nil {
			return 0, err
		}
		return 1, nil
	case DeleteSeriesFromHere:
		if task.OccurrenceDate == nil {
			return 0, fmt.Errorf("%w: occurrence %d has no date", ErrInvalidScope, task.ID)
		}
		deleted := 0
		err := s.tasks.WithTx(ctx, func(tx *repository.TaskRepository) error {
			if err := tx.SoftDelete(ctx, task.ID, now); err != nil {
				return err
			}
			deleted = 1
			later, err := tx.FindInstancesInSeries(ctx, task.SeriesID(), *task.OccurrenceDate)
			if err != nil {
				return err
			}
			for _, sibling := range later {
				if sibling.ID == task.ID {
					continue
				}
				if err := tx.SoftDelete(ctx, sibling.ID, now); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		log.Printf("[info] series deleted from=%s series=%s rows=%d", *task.OccurrenceDate, task.SeriesID(), deleted)
		return deleted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
