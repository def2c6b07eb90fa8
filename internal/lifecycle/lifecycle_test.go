package lifecycle

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/imaging"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/tasktype/guessnumber"
	"crowdtask-api/internal/testutil"
	"crowdtask-api/internal/upload"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	publisher  = &auth.Principal{UID: "pub", Role: auth.RolePublisher}
	otherPub   = &auth.Principal{UID: "pub-2", Role: auth.RolePublisher}
	taskAdmin  = &auth.Principal{UID: "admin", Role: auth.RoleTaskAdmin}
	subscriber = &auth.Principal{UID: "sub", Role: auth.RoleSubscriber}
	siteAdmin  = &auth.Principal{UID: "root", Role: auth.RoleSiteAdmin}
)

// plainType implements no hooks so the engine defaults apply.
type plainType struct{ id string }

func (p *plainType) Meta() tasktype.Meta {
	return tasktype.Meta{ID: p.id, Name: "Plain", Description: "no hooks", Enabled: true}
}

// hookedType delegates the hooks it implements to optional funcs.
type hookedType struct {
	id      string
	create  func(hc *tasktype.HookContext, task *models.Task, a *models.Assignment) (*tasktype.Response, error)
	changed func(hc *tasktype.HookContext, a *models.Assignment) error
}

func (p *hookedType) Meta() tasktype.Meta {
	return tasktype.Meta{ID: p.id, Name: "Hooked", Description: "test hooks", Enabled: true}
}

func (p *hookedType) CreateAssignment(hc *tasktype.HookContext, task *models.Task, a *models.Assignment, _ *tasktype.Request, _ json.RawMessage) (*tasktype.Response, error) {
	if p.create == nil {
		return nil, nil
	}
	return p.create(hc, task, a)
}

func (p *hookedType) AssignmentStatusChanged(hc *tasktype.HookContext, a *models.Assignment, _ models.AssignmentStatus, _ *tasktype.Request) error {
	if p.changed == nil {
		return nil
	}
	return p.changed(hc, a)
}

type event struct {
	user, kind string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) Notify(userID, eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{userID, eventType})
}

type harness struct {
	svc      *Service
	db       *gorm.DB
	stores   *store.Stores
	registry *tasktype.Registry
	storage  *upload.Storage
	notifier *recordingNotifier
	logs     *testutil.LogBuffer
}

func newHarness(t *testing.T, plugins ...tasktype.Plugin) *harness {
	t.Helper()
	db := testutil.MustDB(t)
	log, logs := testutil.CaptureLogger()
	registry := tasktype.NewRegistry(log)
	if len(plugins) == 0 {
		plugins = []tasktype.Plugin{guessnumber.New(guessnumber.WithRand(func(int) int { return 4 }))}
	}
	require.Equal(t, len(plugins), registry.Load(plugins...))
	storage, err := upload.NewStorage(t.TempDir(), 1<<20)
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	return &harness{
		svc:      NewService(db, registry, storage, imaging.NewResizer(storage), log, WithNotifier(notifier)),
		db:       db,
		stores:   store.New(db),
		registry: registry,
		storage:  storage,
		notifier: notifier,
		logs:     logs,
	}
}

type op func(context.Context, *tasktype.Request) (*Result, error)

func request(p *auth.Principal, id, query, body string) *tasktype.Request {
	q, _ := url.ParseQuery(query)
	return &tasktype.Request{Principal: p, ID: id, Query: q, Body: json.RawMessage(body), Ledger: upload.NewLedger()}
}

func call(fn op, p *auth.Principal, id, query, body string) (*Result, error) {
	return fn(context.Background(), request(p, id, query, body))
}

type envelope struct {
	Code int             `json:"code"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, res *Result, dst any) {
	t.Helper()
	raw, err := json.Marshal(res.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, 200, env.Code)
	require.Equal(t, "OK", env.Type)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
}

func requireKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperror.Is(err, kind), "want %s, got %v", kind, err)
}

func (h *harness) seedTask(t *testing.T, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:          newID(),
		Publisher:   publisher.UID,
		Name:        "Seeded",
		Description: "seeded task",
		Excerption:  "seeded",
		Type:        guessnumber.ID,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, h.stores.Tasks.Create(context.Background(), task))
	return task
}

func (h *harness) seedAssignment(t *testing.T, task *models.Task, subscriberID string, mutate func(*models.Assignment)) *models.Assignment {
	t.Helper()
	a := &models.Assignment{
		ID:         newID(),
		Task:       task.ID,
		Publisher:  task.Publisher,
		Subscriber: subscriberID,
		Type:       task.Type,
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, h.stores.Assignments.Create(context.Background(), a))
	return a
}

func (h *harness) reloadTask(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := h.stores.Tasks.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) reloadAssignment(t *testing.T, id string) *models.Assignment {
	t.Helper()
	a, err := h.stores.Assignments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

// publishGuessTask runs a guess-number task through the whole publication flow.
func (h *harness) publishGuessTask(t *testing.T, data string) string {
	t.Helper()
	res, err := call(h.svc.CreateTask, publisher, "", "", `{"name":"g","description":"d","excerption":"e","type":"guess-number"}`)
	require.NoError(t, err)
	var id string
	decode(t, res, &id)

	_, err = call(h.svc.PostTaskData, publisher, id, "", data)
	require.NoError(t, err)
	for _, step := range []struct {
		p      *auth.Principal
		status string
	}{{publisher, "SUBMITTED"}, {taskAdmin, "ADMITTED"}, {publisher, "PUBLISHED"}} {
		_, err = call(h.svc.PatchTask, step.p, id, "", `{"status":"`+step.status+`"}`)
		require.NoError(t, err, step.status)
	}
	return id
}
