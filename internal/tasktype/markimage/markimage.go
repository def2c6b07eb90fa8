// Package markimage is an image labeling task type. The publisher uploads one
// image per slot and asks a multiple choice question; each assignment gets the
// next image and is answered with a choice number.
package markimage

import (
	"encoding/json"
	"errors"
	"fmt"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/upload"
)

const (
	ID = "mark-image"

	// ImagesField is the multipart field carrying the task images.
	ImagesField = "images"

	valueDir    = "markimage.dir"
	valueImages = "markimage.images"
)

type taskData struct {
	Question     string   `json:"question"`
	ChoiceAmount int      `json:"choiceAmount"`
	Choices      []string `json:"choices"`
	// Progress counts handed out slots; it is advanced atomically in storage.
	Progress int64    `json:"progress"`
	Images   []string `json:"images,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	tasktype.SignupOptions
}

type postTaskDataInput struct {
	Total               *int64   `json:"total" validate:"required,min=1,max=100"`
	Question            string   `json:"question" validate:"required"`
	ChoiceAmount        *int     `json:"choiceAmount" validate:"required,min=1"`
	Choices             []string `json:"choices" validate:"required,dive,required"`
	SubmitMultipleTimes bool     `json:"submitMultipleTimes"`
	SignupMultipleTimes bool     `json:"signupMultipleTimes"`
	NoSignup            bool     `json:"noSignup"`
	SubmitAutoPass      bool     `json:"submitAutoPass"`
}

type assignmentData struct {
	Signup   bool   `json:"signup,omitempty"`
	Sequence int64  `json:"sequence"`
	Image    string `json:"image,omitempty"`
	Answer   *int   `json:"answer,omitempty"`
}

type postAssignmentDataInput struct {
	Answer *int `json:"answer" validate:"required,min=1"`
}

type Plugin struct {
	// URLPrefix is prepended to stored file names in projections.
	URLPrefix string
	enabled   bool
}

func New() *Plugin {
	return &Plugin{URLPrefix: "/uploads/", enabled: true}
}

// Disabled returns the plugin in the disabled state.
func (p *Plugin) Disabled() *Plugin {
	p.enabled = false
	return p
}

func (p *Plugin) Meta() tasktype.Meta {
	return tasktype.Meta{
		ID:          ID,
		Name:        "Mark images",
		Description: "Upload images and ask a multiple choice question that subscribers answer for each image.",
		Enabled:     p.enabled,
	}
}

func decodeTaskData(task *models.Task) (taskData, error) {
	var d taskData
	if len(task.Data) == 0 {
		return d, apperror.Invalid("Task data has not been posted")
	}
	if err := json.Unmarshal(task.Data, &d); err != nil {
		return d, apperror.Internal("Corrupted task data", err)
	}
	return d, nil
}

// previousDir is the working directory of the stored settings. Unreadable
// settings leave the directory in place.
func previousDir(hc *tasktype.HookContext, task *models.Task) string {
	if len(task.Data) == 0 {
		return ""
	}
	d, err := decodeTaskData(task)
	if err != nil {
		hc.Logger.Warn("cannot read previous task data, working directory kept", "task", task.ID, "error", err)
		return ""
	}
	return d.Dir
}

func decodeAssignmentData(a *models.Assignment) (assignmentData, error) {
	var d assignmentData
	if len(a.Data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(a.Data, &d); err != nil {
		return d, apperror.Internal("Corrupted assignment data", err)
	}
	return d, nil
}

func (p *Plugin) url(name string) string {
	if name == "" {
		return ""
	}
	return p.URLPrefix + name
}

type taskView struct {
	Question     string   `json:"question"`
	ChoiceAmount int      `json:"choiceAmount"`
	Choices      []string `json:"choices"`
	Progress     int64    `json:"progress"`
	// Images is only shown to the publisher.
	Images []string `json:"images,omitempty"`
	tasktype.SignupOptions
}

func (p *Plugin) TaskDataToPlainObject(task *models.Task, viewer *auth.Principal) (any, error) {
	if len(task.Data) == 0 {
		return map[string]any{}, nil
	}
	d, err := decodeTaskData(task)
	if err != nil {
		return nil, err
	}
	v := taskView{
		Question:      d.Question,
		ChoiceAmount:  d.ChoiceAmount,
		Choices:       d.Choices,
		Progress:      d.Progress,
		SignupOptions: d.SignupOptions,
	}
	if viewer.Is(task.Publisher) {
		for _, img := range d.Images {
			v.Images = append(v.Images, p.url(img))
		}
	}
	return v, nil
}

// PostTaskDataMiddleware stores the uploaded images in a new working directory.
func (p *Plugin) PostTaskDataMiddleware(hc *tasktype.HookContext, task *models.Task, req *tasktype.Request) error {
	files := req.Files(ImagesField)
	if len(files) == 0 {
		return nil
	}
	dir, err := tasktype.ReplaceWorkDir(hc, ID, previousDir(hc, task))
	if err != nil {
		return apperror.Internal("Failed to create working directory", err)
	}

	images := make([]string, 0, len(files))
	for _, fh := range files {
		stored, err := hc.Storage.SaveImage(fh, dir, hc.Ledger)
		if err != nil {
			if errors.Is(err, upload.ErrNotAnImage) || errors.Is(err, upload.ErrTooLarge) {
				return apperror.Invalid(fmt.Sprintf("Invalid image %q: %v", fh.Filename, err))
			}
			return apperror.Internal("Failed to store image", err)
		}
		images = append(images, stored.Name)
	}
	req.Set(valueDir, dir)
	req.Set(valueImages, images)
	return nil
}

func (p *Plugin) PostTaskData(hc *tasktype.HookContext, task *models.Task, req *tasktype.Request) (*tasktype.Response, error) {
	var in postTaskDataInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if len(in.Choices) != *in.ChoiceAmount {
		return nil, apperror.Schema("Unmatched choice amount")
	}

	d := taskData{
		Question:     in.Question,
		ChoiceAmount: *in.ChoiceAmount,
		Choices:      in.Choices,
		SignupOptions: tasktype.SignupOptions{
			SubmitMultipleTimes: in.SubmitMultipleTimes,
			SignupMultipleTimes: in.SignupMultipleTimes,
			NoSignup:            in.NoSignup,
			SubmitAutoPass:      in.SubmitAutoPass,
		},
	}
	if v, ok := req.Get(valueImages); ok {
		d.Images = v.([]string)
		d.Dir, _ = req.Values[valueDir].(string)
		if int64(len(d.Images)) != *in.Total {
			return nil, apperror.Invalid(fmt.Sprintf("Expected %d images, got %d", *in.Total, len(d.Images)))
		}
	} else {
		// the previous images belong to the previous settings
		tasktype.DropWorkDir(hc, previousDir(hc, task))
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, apperror.Internal("Failed to encode task data", err)
	}
	if err := hc.Tasks.ClearMembers(hc.Ctx, task.ID); err != nil {
		return nil, err
	}
	total := *in.Total
	task.Total = &total
	task.Remain = &total
	task.Data = raw
	task.Valid = true
	return nil, nil
}

func (p *Plugin) GetTaskData(hc *tasktype.HookContext, task *models.Task, req *tasktype.Request) (*tasktype.Response, error) {
	if !req.Principal.HasRole(auth.RoleSubscriber) || task.Status != models.TaskPublished {
		return nil, nil
	}
	d, err := decodeTaskData(task)
	if err != nil {
		return nil, err
	}
	st, err := d.UserStatus(hc, task, req.Principal.UID)
	if err != nil {
		return nil, err
	}
	view, err := p.TaskDataToPlainObject(task, req.Principal)
	if err != nil {
		return nil, err
	}
	return tasktype.OK(struct {
		UserStatus tasktype.UserStatus `json:"userStatus"`
		taskView
	}{st, view.(taskView)}), nil
}

type assignmentView struct {
	Sequence int64  `json:"sequence"`
	Image    string `json:"image,omitempty"`
	Finished bool   `json:"finished"`
	Answer   *int   `json:"answer,omitempty"`
}

func (p *Plugin) AssignmentDataToPlainObject(a *models.Assignment, _ *auth.Principal) (any, error) {
	if a.Signup {
		return map[string]bool{"signup": true}, nil
	}
	d, err := decodeAssignmentData(a)
	if err != nil {
		return nil, err
	}
	return assignmentView{
		Sequence: d.Sequence,
		Image:    p.url(d.Image),
		Finished: a.Valid,
		Answer:   d.Answer,
	}, nil
}

func (p *Plugin) CreateAssignment(hc *tasktype.HookContext, task *models.Task, a *models.Assignment, _ *tasktype.Request, payload json.RawMessage) (*tasktype.Response, error) {
	in, err := tasktype.DecodeSignupPayload(payload)
	if err != nil {
		return nil, err
	}
	d, err := decodeTaskData(task)
	if err != nil {
		return nil, err
	}
	if in.Signup {
		return nil, d.CreateSignup(hc, task, a)
	}

	if err := d.CheckSubmission(hc, task, a.Subscriber); err != nil {
		return nil, err
	}
	seq, ok, err := hc.Tasks.AdvanceProgress(hc.Ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Invalid("Assignments all assigned")
	}
	ad := assignmentData{Sequence: seq}
	if seq >= 1 && seq <= int64(len(d.Images)) {
		ad.Image = d.Images[seq-1]
	}
	raw, err := json.Marshal(ad)
	if err != nil {
		return nil, apperror.Internal("Failed to encode assignment data", err)
	}
	a.Data = raw
	a.Summary = "Not finished"
	return nil, nil
}

func (p *Plugin) AssignmentStatusChanged(hc *tasktype.HookContext, a *models.Assignment, _ models.AssignmentStatus, _ *tasktype.Request) error {
	task, err := tasktype.LoadTask(hc, a)
	if err != nil {
		return err
	}
	d, err := decodeTaskData(task)
	if err != nil {
		return err
	}
	return d.StatusChanged(hc, task, a)
}

// PostAssignmentData records the chosen answer. The engine persists the
// assignment afterwards.
func (p *Plugin) PostAssignmentData(hc *tasktype.HookContext, a *models.Assignment, req *tasktype.Request) (*tasktype.Response, error) {
	var in postAssignmentDataInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if a.Signup {
		return nil, apperror.Invalid("Signup assignments take no answers")
	}
	if a.Valid {
		return nil, apperror.Invalid("Assignment already finished")
	}
	task, err := tasktype.LoadTask(hc, a)
	if err != nil {
		return nil, err
	}
	td, err := decodeTaskData(task)
	if err != nil {
		return nil, err
	}
	if *in.Answer > td.ChoiceAmount {
		return nil, apperror.Invalid("Answer bigger than choice amount")
	}

	d, err := decodeAssignmentData(a)
	if err != nil {
		return nil, err
	}
	d.Answer = in.Answer
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, apperror.Internal("Failed to encode assignment data", err)
	}
	a.Data = raw
	a.Valid = true
	a.Summary = "Finished"
	return nil, nil
}

var (
	_ tasktype.TaskDataProjector       = (*Plugin)(nil)
	_ tasktype.TaskDataMiddleware      = (*Plugin)(nil)
	_ tasktype.TaskDataPoster          = (*Plugin)(nil)
	_ tasktype.TaskDataGetter          = (*Plugin)(nil)
	_ tasktype.AssignmentDataProjector = (*Plugin)(nil)
	_ tasktype.AssignmentCreator       = (*Plugin)(nil)
	_ tasktype.AssignmentStatusWatcher = (*Plugin)(nil)
	_ tasktype.AssignmentDataPoster    = (*Plugin)(nil)
)
