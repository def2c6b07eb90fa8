package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/realtime"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
)

type createAssignmentInput struct {
	Task string          `json:"task" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type patchAssignmentInput struct {
	Status *models.AssignmentStatus `json:"status"`
}

var assignmentTransitions = map[transition[models.AssignmentStatus]]actor{
	{models.AssignmentEditing, models.AssignmentSubmitted}:  actorSubscriber,
	{models.AssignmentSubmitted, models.AssignmentAdmitted}: actorPublisher,
	{models.AssignmentSubmitted, models.AssignmentRejected}: actorPublisher,
}

func loadAssignment(ctx context.Context, assignments *store.AssignmentRepository, id string) (*models.Assignment, error) {
	a, err := assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("Assignment does not exist")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) projectAssignment(a *models.Assignment, viewer *auth.Principal) (any, error) {
	if p, ok := s.registry.Enabled(a.Type); ok {
		if pr, ok := p.(tasktype.AssignmentDataProjector); ok {
			v, err := pr.AssignmentDataToPlainObject(a, viewer)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
	}
	return map[string]any{}, nil
}

// defaultCreateChecks applies to task types without a create hook.
func defaultCreateChecks(hc *tasktype.HookContext, task *models.Task, subscriber string) error {
	if err := tasktype.CheckOpen(hc, task); err != nil {
		return err
	}
	signup := false
	exists, err := hc.Assignments.Exists(hc.Ctx, store.AssignmentFilter{
		Task:       task.ID,
		Subscriber: subscriber,
		Status:     models.OutstandingStatuses(),
		Signup:     &signup,
	})
	if err != nil {
		return err
	}
	if exists {
		return apperror.Invalid("User has already created an assignment")
	}
	return nil
}

// CreateAssignment starts an assignment against a published task.
func (s *Service) CreateAssignment(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if !req.Principal.HasRole(auth.RoleSubscriber) {
		return nil, apperror.Permission("Requires subscriber privilege")
	}
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}
	var in createAssignmentInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if d := bytes.TrimSpace(in.Data); len(d) > 0 && d[0] != '{' && !bytes.Equal(d, []byte("null")) {
		return nil, apperror.Schema("Invalid fields: data", apperror.Violation{Field: "data", Constraint: "object"})
	}

	var a *models.Assignment
	var res *Result
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		task, err := loadTask(hc.Ctx, hc.Tasks, in.Task)
		if err != nil {
			return err
		}
		if task.Status != models.TaskPublished {
			return apperror.Invalid("Task is not at PUBLISHED status")
		}
		plugin, err := s.taskPlugin(task.Type)
		if err != nil {
			return err
		}

		a = &models.Assignment{
			ID:         newID(),
			Task:       task.ID,
			Publisher:  task.Publisher,
			Subscriber: req.Principal.UID,
			Type:       task.Type,
			Status:     models.AssignmentEditing,
		}
		if creator, ok := plugin.(tasktype.AssignmentCreator); ok {
			r, err := creator.CreateAssignment(hc, task, a, req, in.Data)
			if err != nil {
				return err
			}
			if r != nil {
				res = r
				return nil
			}
		} else if err := defaultCreateChecks(hc, task, a.Subscriber); err != nil {
			return err
		}
		return hc.Assignments.Create(hc.Ctx, a)
	})
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	s.log.Info("assignment created", "id", a.ID, "task", a.Task, "subscriber", a.Subscriber, "signup", a.Signup)
	s.notifier.Notify(a.Publisher, realtime.EventAssignmentCreated, map[string]any{
		"id": a.ID, "task": a.Task, "subscriber": a.Subscriber, "signup": a.Signup,
	})
	if !populate {
		return ok(a.ID), nil
	}
	if withData {
		if a.View, err = s.projectAssignment(a, req.Principal); err != nil {
			return nil, s.fail(err)
		}
	}
	return ok(a), nil
}

// GetAssignment is open to both parties of the assignment.
func (s *Service) GetAssignment(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}
	a, err := loadAssignment(ctx, s.read(ctx, req).Assignments, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	if !req.Principal.Is(a.Publisher) && !req.Principal.Is(a.Subscriber) {
		return nil, apperror.Permission("Permission denied")
	}
	if withData {
		if a.View, err = s.projectAssignment(a, req.Principal); err != nil {
			return nil, s.fail(err)
		}
	}
	return ok(a), nil
}

// PatchAssignment moves the assignment through its status table. The task
// type sees the change before it is written and may rewrite the status.
func (s *Service) PatchAssignment(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	var in patchAssignmentInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}

	var a *models.Assignment
	var from models.AssignmentStatus
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		var err error
		if a, err = loadAssignment(hc.Ctx, hc.Assignments, req.ID); err != nil {
			return err
		}
		isPublisher := req.Principal.Is(a.Publisher)
		isSubscriber := req.Principal.Is(a.Subscriber)
		if !isPublisher && !isSubscriber {
			return apperror.Permission("Permission denied")
		}
		plugin, err := s.taskPlugin(a.Type)
		if err != nil {
			return err
		}

		from = a.Status
		if in.Status == nil {
			return nil
		}
		is := func(r actor) bool {
			return (r == actorPublisher && isPublisher) || (r == actorSubscriber && isSubscriber)
		}
		if !allowed(assignmentTransitions, from, *in.Status, is) {
			return apperror.Invalid("Invalid status")
		}
		if *in.Status == models.AssignmentSubmitted && !a.Valid {
			return apperror.Invalid("Assignment is not valid")
		}

		a.Status = *in.Status
		if watcher, ok := plugin.(tasktype.AssignmentStatusWatcher); ok {
			if err := watcher.AssignmentStatusChanged(hc, a, from, req); err != nil {
				return err
			}
		} else if a.Status == models.AssignmentAdmitted && !a.Signup {
			task, err := tasktype.LoadTask(hc, a)
			if err != nil {
				return err
			}
			if err := tasktype.ConsumeCapacity(hc, task); err != nil {
				return err
			}
		}
		return hc.Assignments.SaveIfStatus(hc.Ctx, a, from)
	})
	if err != nil {
		return nil, err
	}

	if a.Status != from {
		s.log.Info("assignment status changed", "id", a.ID, "from", from, "to", a.Status, "by", req.Principal.UID)
		event := map[string]any{"id": a.ID, "task": a.Task, "status": a.Status, "signup": a.Signup}
		s.notifier.Notify(a.Publisher, realtime.EventAssignmentStatusChanged, event)
		if a.Subscriber != a.Publisher {
			s.notifier.Notify(a.Subscriber, realtime.EventAssignmentStatusChanged, event)
		}
	}
	if populate {
		return ok(a), nil
	}
	return ok(a.ID), nil
}

// DeleteAssignment soft deletes the assignment.
func (s *Service) DeleteAssignment(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	err := s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		a, err := loadAssignment(hc.Ctx, hc.Assignments, req.ID)
		if err != nil {
			return err
		}
		if !req.Principal.Is(a.Publisher) && !req.Principal.Is(a.Subscriber) {
			return apperror.Permission("Permission denied")
		}
		return hc.Assignments.SoftDelete(hc.Ctx, a.ID)
	})
	if err != nil {
		return nil, err
	}
	return ok(nil), nil
}

// PostAssignmentData hands the subscriber's payload to the task type.
func (s *Service) PostAssignmentData(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}

	var res *Result
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		a, err := loadAssignment(hc.Ctx, hc.Assignments, req.ID)
		if err != nil {
			return err
		}
		if !req.Principal.Is(a.Subscriber) {
			return apperror.Permission("Requires subscriber privilege")
		}
		plugin, err := s.taskPlugin(a.Type)
		if err != nil {
			return err
		}
		if a.Status != models.AssignmentEditing {
			return apperror.Invalid("Assignment is not at EDITING status")
		}

		if mw, ok := plugin.(tasktype.AssignmentDataMiddleware); ok {
			if err := mw.PostAssignmentDataMiddleware(hc, a, req); err != nil {
				return err
			}
		}
		if poster, ok := plugin.(tasktype.AssignmentDataPoster); ok {
			r, err := poster.PostAssignmentData(hc, a, req)
			if err != nil {
				return err
			}
			if r != nil {
				res = r
				return nil
			}
		}
		if err := hc.Assignments.SaveIfStatus(hc.Ctx, a, models.AssignmentEditing); err != nil {
			return err
		}
		if !withData {
			res = ok(nil)
			return nil
		}
		v, err := s.projectAssignment(a, req.Principal)
		if err != nil {
			return err
		}
		res = ok(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetAssignmentData is open to both parties of the assignment.
func (s *Service) GetAssignmentData(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	hc := s.read(ctx, req)
	a, err := loadAssignment(ctx, hc.Assignments, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	if !req.Principal.Is(a.Publisher) && !req.Principal.Is(a.Subscriber) {
		return nil, apperror.Permission("Permission denied")
	}
	plugin, err := s.taskPlugin(a.Type)
	if err != nil {
		return nil, err
	}
	if getter, ok := plugin.(tasktype.AssignmentDataGetter); ok {
		r, err := getter.GetAssignmentData(hc, a, req)
		if err != nil {
			return nil, s.fail(err)
		}
		if r != nil {
			return r, nil
		}
	}
	v, err := s.projectAssignment(a, req.Principal)
	if err != nil {
		return nil, s.fail(err)
	}
	return ok(v), nil
}
