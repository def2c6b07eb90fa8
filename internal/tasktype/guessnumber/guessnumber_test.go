package guessnumber

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func hookContext(t *testing.T) *tasktype.HookContext {
	t.Helper()
	db := testutil.MustDB(t)
	return &tasktype.HookContext{
		Ctx:         context.Background(),
		Tasks:       store.NewTaskRepository(db),
		Assignments: store.NewAssignmentRepository(db),
		Logger:      testutil.DiscardLogger(),
		Now:         func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func newTask(t *testing.T, hc *tasktype.HookContext) *models.Task {
	t.Helper()
	task := &models.Task{ID: uuid.Must(uuid.NewV7()).String(), Publisher: "pub", Name: "guess", Type: ID}
	require.NoError(t, hc.Tasks.Create(hc.Ctx, task))
	return task
}

func postTaskData(t *testing.T, p *Plugin, hc *tasktype.HookContext, task *models.Task, body string) {
	t.Helper()
	res, err := p.PostTaskData(hc, task, &tasktype.Request{Body: json.RawMessage(body)})
	require.NoError(t, err)
	require.Nil(t, res)
	task.Status = models.TaskPublished
	require.NoError(t, hc.Tasks.Save(hc.Ctx, task))
}

func newAssignment(task *models.Task, subscriber string) *models.Assignment {
	return &models.Assignment{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Task:       task.ID,
		Publisher:  task.Publisher,
		Subscriber: subscriber,
		Type:       task.Type,
	}
}

func guess(t *testing.T, p *Plugin, hc *tasktype.HookContext, a *models.Assignment, n int) (*tasktype.Response, error) {
	t.Helper()
	return p.PostAssignmentData(hc, a, &tasktype.Request{
		Principal: &auth.Principal{UID: a.Subscriber, Role: auth.RoleSubscriber},
		Body:      json.RawMessage(fmt.Sprintf(`{"guess":%d}`, n)),
	})
}

func TestPostTaskData_Validation(t *testing.T) {
	hc := hookContext(t)
	p := New()
	task := newTask(t, hc)

	cases := []string{
		`{"min":5,"max":5}`,
		`{"min":10,"max":1}`,
		`{"min":0,"max":101}`,
		`{"max":10}`,
		`{"min":0,"max":10,"total":0}`,
		`{"min":0,"max":10,"unknown":true}`,
	}
	for _, body := range cases {
		_, err := p.PostTaskData(hc, task, &tasktype.Request{Body: json.RawMessage(body)})
		require.True(t, apperror.Is(err, apperror.KindSchema), body)
	}
	require.False(t, task.Valid)
}

func TestPostTaskData_SetsCapacity(t *testing.T) {
	hc := hookContext(t)
	p := New()

	bounded := newTask(t, hc)
	postTaskData(t, p, hc, bounded, `{"min":0,"max":10,"total":3}`)
	require.True(t, bounded.Valid)
	require.Equal(t, int64(3), *bounded.Total)
	require.Equal(t, int64(3), *bounded.Remain)

	unbounded := newTask(t, hc)
	postTaskData(t, p, hc, unbounded, `{"min":0,"max":10}`)
	require.Equal(t, models.Unbounded, *unbounded.Total)
	require.Nil(t, unbounded.Remain)
	require.False(t, unbounded.Bounded())
}

func TestGuessRoundTrip(t *testing.T) {
	hc := hookContext(t)
	p := New(WithRand(func(n int) int { return 7 }))
	task := newTask(t, hc)
	postTaskData(t, p, hc, task, `{"min":0,"max":10,"total":1,"noSignup":true}`)

	a := newAssignment(task, "sub")
	res, err := p.CreateAssignment(hc, task, a, &tasktype.Request{}, nil)
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, "Not finished, 0 guesses", a.Summary)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, a))

	res, err = guess(t, p, hc, a, 3)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"compare": -1}, res.Body.(map[string]any)["data"])
	require.False(t, a.Valid)

	res, err = guess(t, p, hc, a, 7)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"compare": 0}, res.Body.(map[string]any)["data"])
	require.True(t, a.Valid)
	require.Equal(t, "Finished in 2 guesses, correct", a.Summary)

	stored, err := hc.Assignments.FindByID(hc.Ctx, a.ID)
	require.NoError(t, err)
	require.True(t, stored.Valid)

	_, err = guess(t, p, hc, stored, 7)
	require.True(t, apperror.Is(err, apperror.KindInvalid))

	view, err := p.AssignmentDataToPlainObject(stored, nil)
	require.NoError(t, err)
	v := view.(assignmentView)
	require.Equal(t, 2, v.GuessTimes)
	require.Equal(t, 7, *v.Answer)
}

func TestGuess_MaxGuessTimes(t *testing.T) {
	hc := hookContext(t)
	p := New(WithRand(func(n int) int { return 0 }))
	task := newTask(t, hc)
	postTaskData(t, p, hc, task, `{"min":0,"max":10,"maxGuessTimes":2,"noSignup":true}`)

	a := newAssignment(task, "sub")
	_, err := p.CreateAssignment(hc, task, a, &tasktype.Request{}, nil)
	require.NoError(t, err)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, a))

	_, err = guess(t, p, hc, a, 5)
	require.NoError(t, err)
	require.False(t, a.Valid)

	_, err = guess(t, p, hc, a, 6)
	require.NoError(t, err)
	require.True(t, a.Valid)
	require.Equal(t, "Finished in 2 guesses, wrong", a.Summary)

	view, err := p.AssignmentDataToPlainObject(a, nil)
	require.NoError(t, err)
	require.Equal(t, 0, *view.(assignmentView).Answer)
}

func TestSignupFlow(t *testing.T) {
	hc := hookContext(t)
	p := New()
	task := newTask(t, hc)
	postTaskData(t, p, hc, task, `{"min":0,"max":10,"total":2}`)

	// a regular assignment needs a signup first
	_, err := p.CreateAssignment(hc, task, newAssignment(task, "sub"), &tasktype.Request{}, nil)
	require.True(t, apperror.Is(err, apperror.KindInvalid))

	signup := newAssignment(task, "sub")
	_, err = p.CreateAssignment(hc, task, signup, &tasktype.Request{}, json.RawMessage(`{"signup":true}`))
	require.NoError(t, err)
	require.True(t, signup.Signup)
	require.Equal(t, models.AssignmentSubmitted, signup.Status)
	require.Equal(t, tasktype.SummarySignup, signup.Summary)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, signup))

	// a second pending signup is refused
	_, err = p.CreateAssignment(hc, task, newAssignment(task, "sub"), &tasktype.Request{}, json.RawMessage(`{"signup":true}`))
	require.True(t, apperror.Is(err, apperror.KindInvalid))

	signup.Status = models.AssignmentAdmitted
	require.NoError(t, p.AssignmentStatusChanged(hc, signup, models.AssignmentSubmitted, &tasktype.Request{}))
	signed, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListSigned, "sub")
	require.NoError(t, err)
	require.True(t, signed)

	// signup admissions do not consume capacity
	reloaded, err := hc.Tasks.FindByID(hc.Ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), *reloaded.Remain)

	a := newAssignment(task, "sub")
	_, err = p.CreateAssignment(hc, reloaded, a, &tasktype.Request{}, nil)
	require.NoError(t, err)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, a))

	_, err = p.CreateAssignment(hc, reloaded, newAssignment(task, "sub"), &tasktype.Request{}, nil)
	require.True(t, apperror.Is(err, apperror.KindInvalid), "one outstanding assignment per subscriber")

	res, err := p.GetTaskData(hc, reloaded, &tasktype.Request{Principal: &auth.Principal{UID: "sub", Role: auth.RoleSubscriber}})
	require.NoError(t, err)
	raw, err := json.Marshal(res.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"code":200,"type":"OK","data":{"userStatus":{"signed":true,"blocked":false,"created":true},"min":0,"max":10}}`, string(raw))
}

func TestRejectedSignupBlocks(t *testing.T) {
	hc := hookContext(t)
	p := New()
	task := newTask(t, hc)
	postTaskData(t, p, hc, task, `{"min":0,"max":10}`)

	signup := newAssignment(task, "sub")
	_, err := p.CreateAssignment(hc, task, signup, &tasktype.Request{}, json.RawMessage(`{"signup":true}`))
	require.NoError(t, err)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, signup))

	signup.Status = models.AssignmentRejected
	require.NoError(t, p.AssignmentStatusChanged(hc, signup, models.AssignmentSubmitted, &tasktype.Request{}))
	require.NoError(t, hc.Assignments.Save(hc.Ctx, signup))

	_, err = p.CreateAssignment(hc, task, newAssignment(task, "sub"), &tasktype.Request{}, json.RawMessage(`{"signup":true}`))
	require.True(t, apperror.Is(err, apperror.KindInvalid))
	require.Contains(t, err.Error(), "blocked")
}

func TestAdmissionConsumesCapacity(t *testing.T) {
	hc := hookContext(t)
	p := New()
	task := newTask(t, hc)
	postTaskData(t, p, hc, task, `{"min":0,"max":10,"total":1,"noSignup":true,"submitAutoPass":true}`)

	a := newAssignment(task, "sub")
	_, err := p.CreateAssignment(hc, task, a, &tasktype.Request{}, nil)
	require.NoError(t, err)
	require.NoError(t, hc.Assignments.Create(hc.Ctx, a))

	a.Status = models.AssignmentSubmitted
	require.NoError(t, p.AssignmentStatusChanged(hc, a, models.AssignmentEditing, &tasktype.Request{}))
	require.Equal(t, models.AssignmentAdmitted, a.Status, "auto pass")

	reloaded, err := hc.Tasks.FindByID(hc.Ctx, task.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Completed())

	_, err = p.CreateAssignment(hc, reloaded, newAssignment(task, "other"), &tasktype.Request{}, nil)
	require.True(t, apperror.Is(err, apperror.KindInvalid))
	require.Contains(t, err.Error(), "completed")
}
