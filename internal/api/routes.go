package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all routes of the planner API.
func RegisterRoutes(router *mux.Router, c *Controller) {
	router.HandleFunc("/users", c.CreateUser).Methods(http.MethodPost)

	router.HandleFunc("/tasks", c.ListTasks).Methods(http.MethodGet)
	router.HandleFunc("/tasks", c.CreateTask).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{taskID}", c.GetTask).Methods(http.MethodGet)
	router.HandleFunc("/tasks/{taskID}", c.EditTask).Methods(http.MethodPatch)
	router.HandleFunc("/tasks/{taskID}", c.DeleteTask).Methods(http.MethodDelete)
	router.HandleFunc("/tasks/{taskID}/complete", c.CompleteTask).Methods(http.MethodPost)

	router.HandleFunc("/templates", c.ListTemplates).Methods(http.MethodGet)
	router.HandleFunc("/templates", c.CreateTemplate).Methods(http.MethodPost)

	router.HandleFunc("/recurring/ensure", c.EnsureRecurring).Methods(http.MethodPost)
	router.HandleFunc("/export.ics", c.ExportCalendar).Methods(http.MethodGet)
}

// NewRouter builds a router with every API route registered.
func NewRouter(c *Controller) *mux.Router {
	router := mux.NewRouter()
	RegisterRoutes(router, c)
	return router
}
