package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
)

// InstanceStore is the storage the materialization engine works against.
type InstanceStore interface {
	FindActiveTemplates(ctx context.Context, workspace string) ([]model.Task, error)
	InstanceExists(ctx context.Context, templateID uint, occurrenceDate string) (bool, error)
	CountInstances(ctx context.Context, templateID uint) (int64, error)
	InsertInstance(ctx context.Context, task *model.Task) (bool, error)
}

// ReconcileStats summarizes one materialization pass.
type ReconcileStats struct {
	Templates int
	Skipped   int
	Created   int
}

// RecurrenceService materializes instances of recurring templates over a
// rolling horizon. A pass depends only on the clock, the templates and the
// rows already stored, so it can be re-run at any time.
type RecurrenceService struct {
	store       InstanceStore
	workspace   string
	horizonDays int
	loc         *time.Location
	now         func() time.Time
}

func NewRecurrenceService(store InstanceStore, workspace string, horizonDays int, loc *time.Location) *RecurrenceService {
	if workspace == "" {
		workspace = model.WorkspaceLife
	}
	if loc == nil {
		loc = time.Local
	}
	return &RecurrenceService{
		store:       store,
		workspace:   workspace,
		horizonDays: horizonDays,
		loc:         loc,
		now:         time.Now,
	}
}

// Refresh runs a pass with the configured horizon.
func (s *RecurrenceService) Refresh(ctx context.Context) (ReconcileStats, error) {
	return s.EnsureRecurringInstances(ctx, s.horizonDays)
}

// EnsureRecurringInstances inserts every missing instance dated between
// max(today, anchor) and today+horizonDays-1 for each active template.
// Templates whose rule cannot be decoded are logged and skipped. Storage
// errors stop the pass; running it again later is safe.
func (s *RecurrenceService) EnsureRecurringInstances(ctx context.Context, horizonDays int) (ReconcileStats, error) {
	var stats ReconcileStats
	if horizonDays <= 0 {
		return stats, nil
	}

	today := recurrence.StartOfDay(s.now(), s.loc)
	horizonEnd := today.AddDate(0, 0, horizonDays-1)

	templates, err := s.store.FindActiveTemplates(ctx, s.workspace)
	if err != nil {
		return stats, err
	}

	for _, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Templates++
		created, err := s.materialize(ctx, tpl, today, horizonEnd)
		stats.Created += created
		if errors.Is(err, recurrence.ErrDecodeRule) {
			log.Printf("[warn] skip template id=%d: %v", tpl.ID, err)
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("materialize template %d: %w", tpl.ID, err)
		}
	}

	if stats.Created > 0 {
		log.Printf("[info] recurring instances created=%d templates=%d skipped=%d", stats.Created, stats.Templates, stats.Skipped)
	}
	return stats, nil
}

func (s *RecurrenceService) materialize(ctx context.Context, tpl model.Task, today, horizonEnd time.Time) (int, error) {
	rule, err := recurrence.Parse(tpl.RecurrenceRuleJSON)
	if err != nil {
		return 0, err
	}

	anchor := tpl.Anchor().In(s.loc)
	windowStart := recurrence.StartOfDay(anchor, s.loc)
	if today.After(windowStart) {
		windowStart = today
	}

	dates := recurrence.Expand(rule, anchor, windowStart, horizonEnd)
	if len(dates) == 0 {
		return 0, nil
	}

	// The COUNT cap is held here, against every row ever materialized, including
	// rows from an earlier version of the rule.
	capped := rule.EndType == recurrence.EndCount
	remaining := 0
	if capped {
		n, err := s.store.CountInstances(ctx, tpl.ID)
		if err != nil {
			return 0, err
		}
		remaining = rule.Count - int(n)
	}

	created := 0
	for _, date := range dates {
		if capped && remaining <= 0 {
			break
		}
		key := recurrence.DateKey(date)
		exists, err := s.store.InstanceExists(ctx, tpl.ID, key)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		inst := newInstance(tpl, rule, anchor, date)
		inserted, err := s.store.InsertInstance(ctx, &inst)
		if err != nil {
			return created, err
		}
		if !inserted {
			// Another pass created it between the check and the insert.
			continue
		}
		created++
		remaining--
	}
	return created, nil
}

func newInstance(tpl model.Task, rule recurrence.Rule, anchor, date time.Time) model.Task {
	due := recurrence.DueAt(date, rule, anchor)
	key := recurrence.DateKey(date)
	seriesID := tpl.SeriesID()
	templateID := tpl.ID
	return model.Task{
		UserID:            tpl.UserID,
		CategoryID:        tpl.CategoryID,
		Workspace:         tpl.Workspace,
		Title:             tpl.Title,
		Description:       tpl.Description,
		Tags:              tpl.Tags,
		Status:            model.StatusTodo,
		Source:            model.SourceManual,
		DueAt:             &due,
		RecurringSeriesID: &seriesID,
		ParentTemplateID:  &templateID,
		OccurrenceDate:    &key,
	}
}
