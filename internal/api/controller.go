// Package api exposes the planner over a small JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"taskplanner/internal/export"
	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/repository"
	"taskplanner/internal/service"
)

// Controller handles HTTP requests for users, tasks and series.
type Controller struct {
	Users       *repository.UserRepository
	Categories  *service.CategoryService
	Tasks       *service.TaskService
	Occurrences *service.OccurrenceService
	Recurrence  *service.RecurrenceService
	now         func() time.Time
}

func NewController(users *repository.UserRepository, categories *service.CategoryService, tasks *service.TaskService, occurrences *service.OccurrenceService, rec *service.RecurrenceService) *Controller {
	return &Controller{
		Users:       users,
		Categories:  categories,
		Tasks:       tasks,
		Occurrences: occurrences,
		Recurrence:  rec,
		now:         time.Now,
	}
}

var errUserRequired = errors.New("user query parameter required")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[warn] encode response: %v", err)
	}
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, service.ErrScopeRequired):
		status, msg = http.StatusConflict, "scope required"
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recurrence.ErrInvalidRule),
		errors.Is(err, service.ErrInvalidChanges),
		errors.Is(err, service.ErrInvalidScope),
		errors.Is(err, service.ErrRuleNotAllowed),
		errors.Is(err, errUserRequired):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("[error] api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func (c *Controller) user(r *http.Request) (*model.User, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("user"))
	if raw == "" {
		return nil, errUserRequired
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errUserRequired, raw)
	}
	user, err := c.Users.GetByID(r.Context(), uint(id))
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	return user, nil
}

func taskID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["taskID"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad task id", service.ErrInvalidChanges)
	}
	return uint(id), nil
}

// CreateUser handles POST /users.
func (c *Controller) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request payload"})
		return
	}
	user := model.User{FirstName: body.FirstName, LastName: body.LastName, Username: body.Username}
	if err := c.Users.Create(r.Context(), &user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ListTasks handles GET /tasks. It materializes the horizon first.
func (c *Controller) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, err := c.user(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := c.Tasks.ListActive(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /tasks. A body with a rule creates a series.
func (c *Controller) CreateTask(w http.ResponseWriter, r *http.Request) {
	c.create(w, r, false)
}

// CreateTemplate handles POST /templates; the rule is mandatory.
func (c *Controller) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	c.create(w, r, true)
}

func (c *Controller) create(w http.ResponseWriter, r *http.Request, requireRule bool) {
	user, err := c.user(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var input service.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, fmt.Errorf("%w: %v", service.ErrInvalidChanges, err))
		return
	}
	if requireRule && input.Rule == nil {
		writeError(w, fmt.Errorf("%w: rule is required", recurrence.ErrInvalidRule))
		return
	}
	task, err := c.Tasks.CreateTask(r.Context(), user, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /tasks/{taskID}.
func (c *Controller) GetTask(w http.ResponseWriter, r *http.Request) {
	_, task, ok := c.ownedTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ownedTask resolves the task in the path and checks it belongs to the user.
func (c *Controller) ownedTask(w http.ResponseWriter, r *http.Request) (*model.User, *model.Task, bool) {
	user, err := c.user(r)
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	task, err := c.Tasks.GetTask(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	return user, task, true
}

// EditTask handles PATCH /tasks/{taskID}?scope=instance|series.
func (c *Controller) EditTask(w http.ResponseWriter, r *http.Request) {
	_, task, ok := c.ownedTask(w, r)
	if !ok {
		return
	}
	var changes service.TaskChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, fmt.Errorf("%w: %v", service.ErrInvalidChanges, err))
		return
	}
	scope := service.EditScope(r.URL.Query().Get("scope"))
	updated, err := c.Occurrences.EditOccurrence(r.Context(), task.ID, changes, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteTask handles DELETE /tasks/{taskID}?scope=instance|seriesFromHere.
func (c *Controller) DeleteTask(w http.ResponseWriter, r *http.Request) {
	_, task, ok := c.ownedTask(w, r)
	if !ok {
		return
	}
	scope := service.DeleteScope(r.URL.Query().Get("scope"))
	deleted, err := c.Occurrences.DeleteOccurrence(r.Context(), task.ID, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// CompleteTask handles POST /tasks/{taskID}/complete.
func (c *Controller) CompleteTask(w http.ResponseWriter, r *http.Request) {
	user, task, ok := c.ownedTask(w, r)
	if !ok {
		return
	}
	done, err := c.Tasks.CompleteTask(r.Context(), user, task.ID, c.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// ListTemplates handles GET /templates.
func (c *Controller) ListTemplates(w http.ResponseWriter, r *http.Request) {
	user, err := c.user(r)
	if err != nil {
		writeError(w, err)
		return
	}
	templates, err := c.Tasks.ListTemplates(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// EnsureRecurring handles POST /recurring/ensure?horizon=N.
func (c *Controller) EnsureRecurring(w http.ResponseWriter, r *http.Request) {
	var (
		stats service.ReconcileStats
		err   error
	)
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		days, convErr := strconv.Atoi(raw)
		if convErr != nil || days < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "horizon must be a non-negative integer"})
			return
		}
		stats, err = c.Recurrence.EnsureRecurringInstances(r.Context(), days)
	} else {
		stats, err = c.Recurrence.Refresh(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"templates": stats.Templates,
		"skipped":   stats.Skipped,
		"created":   stats.Created,
	})
}

// ExportCalendar handles GET /export.ics?mode=occurrences|series.
func (c *Controller) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	user, err := c.user(r)
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := c.Categories.Names(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}

	var body string
	switch r.URL.Query().Get("mode") {
	case "series":
		templates, err := c.Tasks.ListTemplates(r.Context(), user)
		if err != nil {
			writeError(w, err)
			return
		}
		body, err = export.Series("Planner series", templates, names, c.now())
		if err != nil {
			writeError(w, err)
			return
		}
	default:
		tasks, err := c.Tasks.ListActive(r.Context(), user)
		if err != nil {
			writeError(w, err)
			return
		}
		body = export.Occurrences("Planner", tasks, names, c.now())
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="planner.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Printf("[warn] write calendar: %v", err)
	}
}
