package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/realtime"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/tasktype/guessnumber"

	"github.com/stretchr/testify/require"
)

func bounded(n int64) func(*models.Task) {
	return func(task *models.Task) {
		task.Type = "plain"
		task.Status = models.TaskPublished
		task.Valid = true
		if n >= 0 {
			total, remain := n, n
			task.Total = &total
			task.Remain = &remain
		}
	}
}

func TestGuessNumberRoundTrip(t *testing.T) {
	h := newHarness(t)
	id := h.publishGuessTask(t, `{"min":0,"max":10,"total":1,"noSignup":true}`)

	res, err := call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+id+`"}`)
	require.NoError(t, err)
	var aid string
	decode(t, res, &aid)
	require.Equal(t, []event{{publisher.UID, realtime.EventAssignmentCreated}}, h.notifier.events)

	_, err = call(h.svc.PatchAssignment, subscriber, aid, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindInvalid)

	var cmp map[string]int
	res, err = call(h.svc.PostAssignmentData, subscriber, aid, "", `{"guess":2}`)
	require.NoError(t, err)
	decode(t, res, &cmp)
	require.Equal(t, -1, cmp["compare"])

	res, err = call(h.svc.PostAssignmentData, subscriber, aid, "", `{"guess":4}`)
	require.NoError(t, err)
	decode(t, res, &cmp)
	require.Equal(t, 0, cmp["compare"])
	require.True(t, h.reloadAssignment(t, aid).Valid)

	_, err = call(h.svc.PostAssignmentData, subscriber, aid, "", `{"guess":4}`)
	requireKind(t, err, apperror.KindInvalid)
	_, err = call(h.svc.PostAssignmentData, publisher, aid, "", `{"guess":4}`)
	requireKind(t, err, apperror.KindPermission)

	_, err = call(h.svc.PatchAssignment, subscriber, aid, "", `{"status":"SUBMITTED"}`)
	require.NoError(t, err)
	_, err = call(h.svc.PostAssignmentData, subscriber, aid, "", `{"guess":4}`)
	requireKind(t, err, apperror.KindInvalid)

	_, err = call(h.svc.PatchAssignment, publisher, aid, "", `{"status":"ADMITTED"}`)
	require.NoError(t, err)
	task := h.reloadTask(t, id)
	require.Equal(t, int64(0), *task.Remain)
	require.True(t, task.Completed())

	res, err = call(h.svc.GetAssignmentData, publisher, aid, "", "")
	require.NoError(t, err)
	var view struct {
		Finished bool `json:"finished"`
		Answer   *int `json:"answer"`
	}
	decode(t, res, &view)
	require.True(t, view.Finished)
	require.Equal(t, 4, *view.Answer)

	late := &auth.Principal{UID: "sub-2", Role: auth.RoleSubscriber}
	_, err = call(h.svc.CreateAssignment, late, "", "", `{"task":"`+id+`"}`)
	requireKind(t, err, apperror.KindInvalid)
}

func TestCreateAssignment_Rejections(t *testing.T) {
	h := newHarness(t, guessnumber.New(), &plainType{id: "plain"})
	draft := h.seedTask(t, func(task *models.Task) { task.Type = "plain" })
	open := h.seedTask(t, bounded(-1))

	_, err := call(h.svc.CreateAssignment, publisher, "", "", `{"task":"`+open.ID+`"}`)
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{}`)
	requireKind(t, err, apperror.KindSchema)
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+open.ID+`","data":[1]}`)
	requireKind(t, err, apperror.KindSchema)
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+newID()+`"}`)
	requireKind(t, err, apperror.KindNotFound)
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+draft.ID+`"}`)
	requireKind(t, err, apperror.KindInvalid)

	require.NoError(t, h.registry.SetEnabled("plain", false))
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+open.ID+`"}`)
	requireKind(t, err, apperror.KindInvalid)

	n, err := h.stores.Assignments.Count(context.Background(), store.AssignmentFilter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateAssignment_DefaultChecks(t *testing.T) {
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(-1))

	res, err := call(h.svc.CreateAssignment, subscriber, "", "populate=true", `{"task":"`+task.ID+`","data":{}}`)
	require.NoError(t, err)
	var a struct {
		ID         string `json:"id"`
		Subscriber string `json:"subscriber"`
		Publisher  string `json:"publisher"`
		Status     int    `json:"status"`
	}
	decode(t, res, &a)
	require.Equal(t, subscriber.UID, a.Subscriber)
	require.Equal(t, publisher.UID, a.Publisher)
	require.Equal(t, int(models.AssignmentEditing), a.Status)

	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+task.ID+`"}`)
	requireKind(t, err, apperror.KindInvalid)

	// a rejected assignment no longer blocks a new one
	stored := h.reloadAssignment(t, a.ID)
	stored.Status = models.AssignmentRejected
	require.NoError(t, h.stores.Assignments.Save(context.Background(), stored))
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+task.ID+`"}`)
	require.NoError(t, err)

	full := h.seedTask(t, bounded(0))
	_, err = call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+full.ID+`"}`)
	requireKind(t, err, apperror.KindInvalid)
}

func TestCreateAssignment_HookResponseShortCircuits(t *testing.T) {
	plugin := &hookedType{id: "hooked", create: func(*tasktype.HookContext, *models.Task, *models.Assignment) (*tasktype.Response, error) {
		return tasktype.OK("handled"), nil
	}}
	h := newHarness(t, plugin)
	task := h.seedTask(t, func(task *models.Task) {
		task.Type = "hooked"
		task.Status = models.TaskPublished
	})

	res, err := call(h.svc.CreateAssignment, subscriber, "", "", `{"task":"`+task.ID+`"}`)
	require.NoError(t, err)
	var got string
	decode(t, res, &got)
	require.Equal(t, "handled", got)

	n, err := h.stores.Assignments.Count(context.Background(), store.AssignmentFilter{Task: task.ID})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, h.notifier.events)
}

func TestPatchAssignment_TransitionTotality(t *testing.T) {
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(-1))
	statuses := []models.AssignmentStatus{
		models.AssignmentEditing, models.AssignmentSubmitted, models.AssignmentAdmitted, models.AssignmentRejected,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			for _, who := range []actor{actorPublisher, actorSubscriber} {
				a := h.seedAssignment(t, task, subscriber.UID, func(a *models.Assignment) {
					a.Status = from
					a.Valid = true
				})
				principal := subscriber
				if who == actorPublisher {
					principal = publisher
				}
				_, err := call(h.svc.PatchAssignment, principal, a.ID, "", fmt.Sprintf(`{"status":%d}`, to))

				want, inTable := assignmentTransitions[transition[models.AssignmentStatus]{from, to}]
				name := fmt.Sprintf("%s -> %s by actor %d", from, to, who)
				if inTable && want == who {
					require.NoError(t, err, name)
					require.Equal(t, to, h.reloadAssignment(t, a.ID).Status, name)
				} else {
					requireKind(t, err, apperror.KindInvalid)
					require.Equal(t, from, h.reloadAssignment(t, a.ID).Status, name)
				}
			}
		}
	}
}

func TestPatchAssignment_Permissions(t *testing.T) {
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(-1))
	a := h.seedAssignment(t, task, subscriber.UID, nil)

	_, err := call(h.svc.PatchAssignment, subscriber, a.ID, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindInvalid)

	stranger := &auth.Principal{UID: "sub-2", Role: auth.RoleSubscriber}
	_, err = call(h.svc.PatchAssignment, stranger, a.ID, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.GetAssignment, stranger, a.ID, "", "")
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.GetAssignmentData, stranger, a.ID, "", "")
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.GetAssignment, publisher, a.ID, "data=true", "")
	require.NoError(t, err)

	_, err = call(h.svc.DeleteAssignment, stranger, a.ID, "", "")
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.DeleteAssignment, subscriber, a.ID, "", "")
	require.NoError(t, err)
	_, err = call(h.svc.GetAssignment, subscriber, a.ID, "", "")
	requireKind(t, err, apperror.KindNotFound)
	_, err = call(h.svc.PatchAssignment, subscriber, a.ID, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindNotFound)
}

func TestAssignment_PermissionCheckedBeforeTaskType(t *testing.T) {
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(-1))
	a := h.seedAssignment(t, task, subscriber.UID, nil)
	require.NoError(t, h.registry.SetEnabled("plain", false))

	stranger := &auth.Principal{UID: "sub-2", Role: auth.RoleSubscriber}
	_, err := call(h.svc.PatchAssignment, stranger, a.ID, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.PostAssignmentData, stranger, a.ID, "", `{}`)
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.GetAssignmentData, stranger, a.ID, "", "")
	requireKind(t, err, apperror.KindPermission)

	_, err = call(h.svc.PatchAssignment, subscriber, a.ID, "", `{"status":"SUBMITTED"}`)
	requireKind(t, err, apperror.KindInvalid)
	_, err = call(h.svc.GetAssignmentData, publisher, a.ID, "", "")
	requireKind(t, err, apperror.KindInvalid)
}

func TestPatchAssignment_ConcurrentAdmissions(t *testing.T) {
	const k = 8
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(1))
	ids := make([]string, k)
	for i := range ids {
		ids[i] = h.seedAssignment(t, task, fmt.Sprintf("sub-%d", i), func(a *models.Assignment) {
			a.Status = models.AssignmentSubmitted
			a.Valid = true
		}).ID
	}

	errs := make([]error, k)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = call(h.svc.PatchAssignment, publisher, ids[i], "", `{"status":"ADMITTED"}`)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, apperror.KindInvalid)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(0), *h.reloadTask(t, task.ID).Remain)

	admitted, err := h.stores.Assignments.Count(context.Background(), store.AssignmentFilter{
		Task:   task.ID,
		Status: []models.AssignmentStatus{models.AssignmentAdmitted},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), admitted)
}

func TestPatchAssignment_HookFailureRollsBack(t *testing.T) {
	plugin := &hookedType{id: "hooked", changed: func(hc *tasktype.HookContext, a *models.Assignment) error {
		if _, err := hc.Tasks.AppendMember(hc.Ctx, a.Task, models.ListSigned, a.Subscriber); err != nil {
			return err
		}
		if err := tasktype.ConsumeCapacity(hc, &models.Task{ID: a.Task, Total: ptr(int64(1)), Remain: ptr(int64(1))}); err != nil {
			return err
		}
		return errors.New("boom")
	}}
	h := newHarness(t, plugin)
	task := h.seedTask(t, func(task *models.Task) {
		bounded(1)(task)
		task.Type = "hooked"
	})
	a := h.seedAssignment(t, task, subscriber.UID, func(a *models.Assignment) {
		a.Status = models.AssignmentSubmitted
		a.Valid = true
	})

	_, err := call(h.svc.PatchAssignment, publisher, a.ID, "", `{"status":"ADMITTED"}`)
	requireKind(t, err, apperror.KindInternal)

	require.Equal(t, models.AssignmentSubmitted, h.reloadAssignment(t, a.ID).Status)
	require.Equal(t, int64(1), *h.reloadTask(t, task.ID).Remain)
	member, err := h.stores.Tasks.HasMember(context.Background(), task.ID, models.ListSigned, subscriber.UID)
	require.NoError(t, err)
	require.False(t, member)
	require.Empty(t, h.notifier.events)
}

func TestPatchAssignment_NotifiesBothParties(t *testing.T) {
	h := newHarness(t, &plainType{id: "plain"})
	task := h.seedTask(t, bounded(-1))
	a := h.seedAssignment(t, task, subscriber.UID, func(a *models.Assignment) {
		a.Status = models.AssignmentSubmitted
		a.Valid = true
	})

	_, err := call(h.svc.PatchAssignment, publisher, a.ID, "", `{"status":"REJECTED"}`)
	require.NoError(t, err)
	require.Equal(t, []event{
		{publisher.UID, realtime.EventAssignmentStatusChanged},
		{subscriber.UID, realtime.EventAssignmentStatusChanged},
	}, h.notifier.events)
}

func ptr[T any](v T) *T {
	return &v
}
