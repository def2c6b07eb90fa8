package tasktype

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/upload"
)

// Meta describes a task type.
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Plugin is a task type. Every hook below is optional; the engine discovers
// them with type assertions and falls back to its own defaults.
type Plugin interface {
	Meta() Meta
}

// TaskDataProjector renders task.Data for a viewer. It must omit whatever the
// viewer may not see.
type TaskDataProjector interface {
	TaskDataToPlainObject(task *models.Task, viewer *auth.Principal) (any, error)
}

// TaskDataMiddleware runs before PostTaskData, typically to store uploads.
type TaskDataMiddleware interface {
	PostTaskDataMiddleware(hc *HookContext, task *models.Task, req *Request) error
}

// TaskDataPoster validates a publisher payload and sets Valid, Total, Remain
// and Data. A nil response lets the engine persist the task and reply.
type TaskDataPoster interface {
	PostTaskData(hc *HookContext, task *models.Task, req *Request) (*Response, error)
}

type TaskDataGetter interface {
	GetTaskData(hc *HookContext, task *models.Task, req *Request) (*Response, error)
}

type AssignmentDataProjector interface {
	AssignmentDataToPlainObject(a *models.Assignment, viewer *auth.Principal) (any, error)
}

// AssignmentCreator fills in the skeleton assignment or rejects it. payload is
// the raw "data" member of the create request, nil when absent. A non-nil
// response is returned verbatim and the engine does not persist the skeleton.
type AssignmentCreator interface {
	CreateAssignment(hc *HookContext, task *models.Task, a *models.Assignment, req *Request, payload json.RawMessage) (*Response, error)
}

// AssignmentStatusWatcher runs after a status change is accepted and before it
// is written. It may rewrite a.Status and must keep task counters and member
// lists consistent.
type AssignmentStatusWatcher interface {
	AssignmentStatusChanged(hc *HookContext, a *models.Assignment, from models.AssignmentStatus, req *Request) error
}

type AssignmentDataMiddleware interface {
	PostAssignmentDataMiddleware(hc *HookContext, a *models.Assignment, req *Request) error
}

type AssignmentDataPoster interface {
	PostAssignmentData(hc *HookContext, a *models.Assignment, req *Request) (*Response, error)
}

type AssignmentDataGetter interface {
	GetAssignmentData(hc *HookContext, a *models.Assignment, req *Request) (*Response, error)
}

// Request is one inbound operation as seen by the engine and its plugins.
type Request struct {
	Principal *auth.Principal
	// ID is the path id, empty for collection operations.
	ID    string
	Query url.Values
	// Body is the JSON payload. For multipart requests it is the "data" form
	// field.
	Body   json.RawMessage
	Form   *multipart.Form
	Ledger *upload.Ledger
	// Values carries state from a middleware hook to the data hook.
	Values map[string]any
}

// QueryBool reports whether the query parameter is exactly "true".
func (r *Request) QueryBool(key string) bool {
	return r.Query != nil && r.Query.Get(key) == "true"
}

func (r *Request) Set(key string, v any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	r.Values[key] = v
}

func (r *Request) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Files returns the uploaded files of a multipart field.
func (r *Request) Files(field string) []*multipart.FileHeader {
	if r.Form == nil {
		return nil
	}
	return r.Form.File[field]
}

// Response is a complete reply produced by a hook.
type Response struct {
	Status int
	Body   any
}

// OK wraps data in the success envelope. A nil data is left out.
func OK(data any) *Response {
	body := map[string]any{"code": http.StatusOK, "type": "OK"}
	if data != nil {
		body["data"] = data
	}
	return &Response{Status: http.StatusOK, Body: body}
}

// HookContext gives hooks access to the storage of the running transaction.
type HookContext struct {
	Ctx         context.Context
	Tasks       *store.TaskRepository
	Assignments *store.AssignmentRepository
	Storage     *upload.Storage
	Ledger      *upload.Ledger
	Logger      *slog.Logger
	Now         func() time.Time

	afterCommit []func()
}

// AfterCommit queues fn to run once the transaction has committed. Queued
// functions are dropped on rollback.
func (hc *HookContext) AfterCommit(fn func()) {
	hc.afterCommit = append(hc.afterCommit, fn)
}

// Committed runs the queued functions in order.
func (hc *HookContext) Committed() {
	fns := hc.afterCommit
	hc.afterCommit = nil
	for _, fn := range fns {
		fn()
	}
}

// Time is the current time according to the context clock.
func (hc *HookContext) Time() time.Time {
	if hc.Now != nil {
		return hc.Now()
	}
	return time.Now()
}
