package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/imaging"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/realtime"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/upload"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PictureField is the multipart field of the optional task picture.
const PictureField = "picture"

type createTaskInput struct {
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description" validate:"required"`
	Excerption  string     `json:"excerption" validate:"required,max=140"`
	Tags        []string   `json:"tags" validate:"max=5,unique,dive,required"`
	Deadline    *time.Time `json:"deadline"`
	Type        string     `json:"type"`
}

type patchTaskInput struct {
	Name        *string   `json:"name" validate:"omitnil,min=1"`
	Description *string   `json:"description" validate:"omitnil,min=1"`
	Excerption  *string   `json:"excerption" validate:"omitnil,min=1,max=140"`
	Tags        *[]string `json:"tags" validate:"omitnil,max=5,unique,dive,required"`
	// Deadline is kept raw so that null (clear) and absent (keep) differ.
	Deadline json.RawMessage    `json:"deadline"`
	Type     *string            `json:"type" validate:"omitnil,min=1"`
	Status   *models.TaskStatus `json:"status"`
}

func (in *patchTaskInput) updatesInfo() bool {
	return in.Name != nil || in.Description != nil || in.Excerption != nil ||
		in.Tags != nil || in.Deadline != nil || in.Type != nil
}

// deadline decodes the raw deadline. clear reports an explicit null.
func (in *patchTaskInput) deadline() (t *time.Time, clear bool, err error) {
	if in.Deadline == nil {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(in.Deadline), []byte("null")) {
		return nil, true, nil
	}
	var v time.Time
	if err := json.Unmarshal(in.Deadline, &v); err != nil {
		return nil, false, apperror.Schema("Invalid fields: deadline", apperror.Violation{Field: "deadline", Constraint: "datetime"})
	}
	return &v, false, nil
}

type actor int

const (
	actorPublisher actor = iota + 1
	actorSubscriber
	actorAdmin
)

type transition[S comparable] struct {
	from, to S
}

var taskTransitions = map[transition[models.TaskStatus]]actor{
	{models.TaskAdmitted, models.TaskEditing}:   actorPublisher,
	{models.TaskSubmitted, models.TaskEditing}:  actorAdmin,
	{models.TaskEditing, models.TaskSubmitted}:  actorPublisher,
	{models.TaskSubmitted, models.TaskAdmitted}: actorAdmin,
	{models.TaskAdmitted, models.TaskPublished}: actorPublisher,
}

// allowed reports whether the table permits from -> to for an actor that
// plays the roles accepted by is.
func allowed[S comparable](table map[transition[S]]actor, from, to S, is func(actor) bool) bool {
	a, ok := table[transition[S]{from, to}]
	return ok && is(a)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func loadTask(ctx context.Context, tasks *store.TaskRepository, id string) (*models.Task, error) {
	task, err := tasks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("Task does not exist")
		}
		return nil, err
	}
	return task, nil
}

func (s *Service) invalidType() error {
	return apperror.InvalidWith("Invalid type", s.registry.EnabledIDs())
}

// taskPlugin returns the enabled plugin bound to the task.
func (s *Service) taskPlugin(typ string) (tasktype.Plugin, error) {
	if typ == "" {
		return nil, apperror.Invalid("Invalid task type")
	}
	p, ok := s.registry.Enabled(typ)
	if !ok {
		return nil, apperror.Invalid("Invalid task type")
	}
	return p, nil
}

func (s *Service) projectTask(task *models.Task, viewer *auth.Principal) (any, error) {
	if p, ok := s.registry.Enabled(task.Type); ok {
		if pr, ok := p.(tasktype.TaskDataProjector); ok {
			v, err := pr.TaskDataToPlainObject(task, viewer)
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

// attachPicture stores the uploaded picture and its thumbnail and points the
// task at them. It returns the files they replace.
func (s *Service) attachPicture(req *tasktype.Request, task *models.Task) ([]string, error) {
	files := req.Files(PictureField)
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, apperror.Schema("Only one picture is allowed")
	}
	if s.storage == nil || s.resizer == nil {
		return nil, apperror.Config("Uploads are not configured")
	}
	stored, err := s.storage.SaveImage(files[0], "", req.Ledger)
	if err != nil {
		if errors.Is(err, upload.ErrNotAnImage) || errors.Is(err, upload.ErrTooLarge) {
			return nil, apperror.Invalid("Invalid picture: " + err.Error())
		}
		return nil, apperror.Internal("Failed to store picture", err)
	}
	thumb, err := s.resizer.Thumbnail(stored.Name, imaging.TaskThumbnail, req.Ledger)
	if err != nil {
		return nil, apperror.Internal("Failed to create thumbnail", err)
	}

	var old []string
	for _, name := range []string{task.Picture, task.PictureThumbnail} {
		if name != "" {
			old = append(old, name)
		}
	}
	task.Picture = stored.Name
	task.PictureThumbnail = thumb.Name
	return old, nil
}

// dropFiles removes superseded uploads once the transaction commits.
func (s *Service) dropFiles(hc *tasktype.HookContext, names []string) {
	for _, name := range names {
		hc.AfterCommit(func() {
			if err := s.storage.RemoveAll(name); err != nil {
				s.log.Warn("failed to remove superseded file", "file", name, "error", err)
			}
		})
	}
}

// CreateTask adds an EDITING task owned by the caller.
func (s *Service) CreateTask(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if !req.Principal.HasRole(auth.RolePublisher) {
		return nil, apperror.Permission("Requires publisher privilege")
	}
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	var in createTaskInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if in.Type != "" {
		if _, ok := s.registry.Enabled(in.Type); !ok {
			return nil, s.invalidType()
		}
	}

	task := &models.Task{
		ID:          newID(),
		Publisher:   req.Principal.UID,
		Name:        in.Name,
		Description: in.Description,
		Excerption:  in.Excerption,
		Tags:        datatypes.JSONSlice[string](in.Tags),
		Type:        in.Type,
		Status:      models.TaskEditing,
		Deadline:    in.Deadline,
	}
	if _, err := s.attachPicture(req, task); err != nil {
		return nil, err
	}
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		return hc.Tasks.Create(hc.Ctx, task)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task created", "id", task.ID, "publisher", task.Publisher, "type", task.Type)
	if populate {
		return ok(task), nil
	}
	return ok(task.ID), nil
}

// GetTask returns a published task to anyone, other tasks to their publisher
// and task admins.
func (s *Service) GetTask(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}
	task, err := loadTask(ctx, s.read(ctx, req).Tasks, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	if task.Status != models.TaskPublished &&
		!req.Principal.Is(task.Publisher) && !req.Principal.HasRole(auth.RoleTaskAdmin) {
		return nil, apperror.Permission("Permission denied")
	}
	if withData {
		if task.View, err = s.projectTask(task, req.Principal); err != nil {
			return nil, s.fail(err)
		}
	}
	return ok(task), nil
}

// PatchTask edits info fields and moves the task through its status table.
func (s *Service) PatchTask(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	var in patchTaskInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	deadline, clearDeadline, err := in.deadline()
	if err != nil {
		return nil, err
	}
	if !req.Principal.HasAnyRole(auth.RolePublisher | auth.RoleTaskAdmin) {
		return nil, apperror.Permission("Permission denied")
	}

	var task *models.Task
	var from models.TaskStatus
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		var err error
		if task, err = loadTask(hc.Ctx, hc.Tasks, req.ID); err != nil {
			return err
		}
		if in.Type != nil && task.Type != "" {
			return apperror.Invalid("Task already has a type")
		}
		isPublisher := req.Principal.Is(task.Publisher)
		isAdmin := req.Principal.HasRole(auth.RoleTaskAdmin)
		if !isPublisher && !isAdmin {
			return apperror.Permission("Permission denied")
		}

		if in.updatesInfo() || len(req.Files(PictureField)) > 0 {
			if !isPublisher {
				return apperror.Permission("Requires publisher privilege")
			}
			if task.Status != models.TaskEditing {
				return apperror.Invalid("Task is not at EDITING status")
			}
		}
		if in.Type != nil {
			if _, ok := s.registry.Enabled(*in.Type); !ok {
				return s.invalidType()
			}
			task.Type = *in.Type
		}
		if in.Name != nil {
			task.Name = *in.Name
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		if in.Excerption != nil {
			task.Excerption = *in.Excerption
		}
		if in.Tags != nil {
			task.Tags = datatypes.JSONSlice[string](*in.Tags)
		}
		switch {
		case clearDeadline:
			task.Deadline = nil
		case deadline != nil:
			task.Deadline = deadline
		}

		from = task.Status
		if in.Status != nil {
			to := *in.Status
			is := func(a actor) bool {
				return (a == actorPublisher && isPublisher) || (a == actorAdmin && isAdmin)
			}
			if !allowed(taskTransitions, from, to, is) {
				return apperror.Invalid("Invalid status")
			}
			if to == models.TaskSubmitted && !task.Valid {
				return apperror.Invalid("Task is not valid")
			}
			task.Status = to
		}

		old, err := s.attachPicture(req, task)
		if err != nil {
			return err
		}
		if err := hc.Tasks.SaveIfStatus(hc.Ctx, task, from); err != nil {
			return err
		}
		s.dropFiles(hc, old)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if task.Status != from {
		s.log.Info("task status changed", "id", task.ID, "from", from, "to", task.Status, "by", req.Principal.UID)
		s.notifier.Notify(task.Publisher, realtime.EventTaskStatusChanged, map[string]any{
			"id": task.ID, "status": task.Status,
		})
	}
	if populate {
		return ok(task), nil
	}
	return ok(task.ID), nil
}

// DeleteTask soft deletes the task.
func (s *Service) DeleteTask(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	if !req.Principal.HasAnyRole(auth.RolePublisher | auth.RoleTaskAdmin) {
		return nil, apperror.Permission("Permission denied")
	}
	err := s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		task, err := loadTask(hc.Ctx, hc.Tasks, req.ID)
		if err != nil {
			return err
		}
		if !req.Principal.Is(task.Publisher) && !req.Principal.HasRole(auth.RoleTaskAdmin) {
			return apperror.Permission("Permission denied")
		}
		return hc.Tasks.SoftDelete(hc.Ctx, task.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task deleted", "id", req.ID, "by", req.Principal.UID)
	return ok(nil), nil
}

// PostTaskData hands the publisher's payload to the task type.
func (s *Service) PostTaskData(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}

	var res *Result
	err = s.inTx(ctx, req, func(hc *tasktype.HookContext) error {
		task, err := loadTask(hc.Ctx, hc.Tasks, req.ID)
		if err != nil {
			return err
		}
		if !req.Principal.Is(task.Publisher) {
			return apperror.Permission("Requires publisher privilege")
		}
		plugin, err := s.taskPlugin(task.Type)
		if err != nil {
			return err
		}
		if task.Status != models.TaskEditing {
			return apperror.Invalid("Task is not at EDITING status")
		}

		if mw, ok := plugin.(tasktype.TaskDataMiddleware); ok {
			if err := mw.PostTaskDataMiddleware(hc, task, req); err != nil {
				return err
			}
		}
		if poster, ok := plugin.(tasktype.TaskDataPoster); ok {
			r, err := poster.PostTaskData(hc, task, req)
			if err != nil {
				return err
			}
			if r != nil {
				res = r
				return nil
			}
		}
		if err := hc.Tasks.SaveIfStatus(hc.Ctx, task, models.TaskEditing); err != nil {
			return err
		}
		if !withData {
			res = ok(nil)
			return nil
		}
		v, err := s.projectTask(task, req.Principal)
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

// GetTaskData is open to the publisher and, once published, to subscribers.
func (s *Service) GetTaskData(ctx context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	hc := s.read(ctx, req)
	task, err := loadTask(ctx, hc.Tasks, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	if !req.Principal.Is(task.Publisher) &&
		!(req.Principal.HasRole(auth.RoleSubscriber) && task.Status == models.TaskPublished) {
		return nil, apperror.Permission("Permission denied")
	}
	plugin, err := s.taskPlugin(task.Type)
	if err != nil {
		return nil, err
	}
	if getter, ok := plugin.(tasktype.TaskDataGetter); ok {
		r, err := getter.GetTaskData(hc, task, req)
		if err != nil {
			return nil, s.fail(err)
		}
		if r != nil {
			return r, nil
		}
	}
	v, err := s.projectTask(task, req.Principal)
	if err != nil {
		return nil, s.fail(err)
	}
	return ok(v), nil
}
