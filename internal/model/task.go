package model

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task statuses.
const (
	StatusTodo  = "todo"
	StatusDoing = "doing"
	StatusDone  = "done"
)

// Workspaces a task can live in.
const (
	WorkspaceLife   = "life"
	WorkspaceSchool = "school"
)

const SourceManual = "manual"

// Task represents a single item in the planner. A recurring series is one
// template row (IsRecurringTemplate) plus the instance rows materialized from it.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index" json:"userId"`
	CategoryID  *uint      `gorm:"index" json:"categoryId,omitempty"`
	Workspace   string     `gorm:"index;default:life" json:"workspace"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tags        string     `json:"tags,omitempty"`
	Status      string     `gorm:"default:todo" json:"status"`
	Source      string     `gorm:"default:manual" json:"source"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	IsRecurringTemplate bool           `gorm:"index;default:false" json:"isRecurringTemplate"`
	RecurrenceRuleJSON  datatypes.JSON `json:"rule,omitempty"`
	RecurringSeriesID   *string        `gorm:"index" json:"seriesId,omitempty"`
	// ParentTemplateID and OccurrenceDate form the dedup key of an instance.
	ParentTemplateID     *uint   `gorm:"uniqueIndex:idx_template_occurrence" json:"parentTemplateId,omitempty"`
	OccurrenceDate       *string `gorm:"uniqueIndex:idx_template_occurrence;size:10" json:"occurrenceDate,omitempty"`
	IsOccurrenceOverride bool    `gorm:"default:false" json:"isOccurrenceOverride"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsInstance reports whether the task was materialized from a template.
func (t Task) IsInstance() bool {
	return t.ParentTemplateID != nil
}

// Anchor is the original start of the series a template defines.
func (t Task) Anchor() time.Time {
	if t.DueAt != nil {
		return *t.DueAt
	}
	return t.CreatedAt
}

// SeriesID falls back to the row's own id for templates created without one.
func (t Task) SeriesID() string {
	if t.RecurringSeriesID != nil && *t.RecurringSeriesID != "" {
		return *t.RecurringSeriesID
	}
	return strconv.FormatUint(uint64(t.ID), 10)
}
