// Package lifecycle implements the task and assignment state machines. Every
// operation takes a tasktype.Request and returns either a Result or an
// *apperror.Error; transports only translate the two.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/imaging"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/upload"

	"gorm.io/gorm"
)

// Result is a complete reply: status code and JSON body.
type Result = tasktype.Response

// Notifier pushes lifecycle events to connected users.
type Notifier interface {
	Notify(userID, eventType string, data any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, any) {}

const (
	defaultLimit = 10
	maxLimit     = 49
)

// Service runs the lifecycle operations against one database.
type Service struct {
	db       *gorm.DB
	stores   *store.Stores
	registry *tasktype.Registry
	storage  *upload.Storage
	resizer  *imaging.Resizer
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now, mostly for deadline tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, registry *tasktype.Registry, storage *upload.Storage, resizer *imaging.Resizer, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		stores:   store.New(db),
		registry: registry,
		storage:  storage,
		resizer:  resizer,
		notifier: nopNotifier{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) hookContext(ctx context.Context, st *store.Stores, req *tasktype.Request) *tasktype.HookContext {
	return &tasktype.HookContext{
		Ctx:         ctx,
		Tasks:       st.Tasks,
		Assignments: st.Assignments,
		Storage:     s.storage,
		Ledger:      req.Ledger,
		Logger:      s.log,
		Now:         s.now,
	}
}

// inTx runs fn in a transaction. Hooks queued with AfterCommit run only when
// it commits.
func (s *Service) inTx(ctx context.Context, req *tasktype.Request, fn func(hc *tasktype.HookContext) error) error {
	var hc *tasktype.HookContext
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hc = s.hookContext(ctx, s.stores.WithTx(tx), req)
		return fn(hc)
	})
	if err != nil {
		return s.fail(err)
	}
	hc.Committed()
	return nil
}

// read gives read-only operations a hook context outside any transaction.
func (s *Service) read(ctx context.Context, req *tasktype.Request) *tasktype.HookContext {
	return s.hookContext(ctx, s.stores, req)
}

// fail classifies err. Unclassified errors are logged and hidden from callers.
func (s *Service) fail(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return &apperror.Error{Kind: apperror.KindInvalid, Message: "Concurrent modification, retry the request", Err: err}
	}
	e := apperror.As(err)
	if e.Kind == apperror.KindInternal {
		s.log.Error("lifecycle operation failed", "error", err)
	}
	return e
}

func ok(data any) *Result {
	return tasktype.OK(data)
}

func requireID(req *tasktype.Request) error {
	if req.ID == "" {
		return apperror.Schema("Invalid id")
	}
	return nil
}

// parseBoolQuery accepts only "true" and "false".
func parseBoolQuery(req *tasktype.Request, key string) (bool, error) {
	if req.Query == nil || !req.Query.Has(key) {
		return false, nil
	}
	switch req.Query.Get(key) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, apperror.Schema("Invalid " + key)
}

func parsePage(req *tasktype.Request) (store.Page, error) {
	page := store.Page{Limit: defaultLimit}
	if req.Query == nil {
		return page, nil
	}
	if v := req.Query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return page, apperror.Schema("Invalid limit")
		}
		page.Limit = n
	}
	page.LastID = req.Query.Get("lastId")
	return page, nil
}

// listResult is the body of a find operation.
type listResult struct {
	Data   any    `json:"data"`
	LastID string `json:"lastId,omitempty"`
	Total  *int64 `json:"total,omitempty"`
}
