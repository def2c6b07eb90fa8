// Package guessnumber is a toy task type: subscribers guess an integer in a
// known range and are told whether each guess is low, high or correct. It
// collects how many guesses people need.
package guessnumber

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/tasktype"
)

const ID = "guess-number"

// taskData is stored in task.Data.
type taskData struct {
	Min           int  `json:"min"`
	Max           int  `json:"max"`
	MaxGuessTimes *int `json:"maxGuessTimes,omitempty"`
	tasktype.SignupOptions
}

type postTaskDataInput struct {
	Min                 *int   `json:"min" validate:"required,min=0,max=100"`
	Max                 *int   `json:"max" validate:"required,min=0,max=100"`
	Total               *int64 `json:"total" validate:"omitempty,min=1"`
	MaxGuessTimes       *int   `json:"maxGuessTimes" validate:"omitempty,min=0,max=100"`
	SubmitMultipleTimes bool   `json:"submitMultipleTimes"`
	SignupMultipleTimes bool   `json:"signupMultipleTimes"`
	NoSignup            bool   `json:"noSignup"`
	SubmitAutoPass      bool   `json:"submitAutoPass"`
}

// assignmentData is stored in assignment.Data.
type assignmentData struct {
	Signup  bool  `json:"signup,omitempty"`
	Answer  int   `json:"answer"`
	Guesses []int `json:"guesses"`
	// Compare is the result of the last guess: -1 low, 0 correct, 1 high.
	Compare *int `json:"compare,omitempty"`
}

type postAssignmentDataInput struct {
	Guess *int `json:"guess" validate:"required,min=0,max=100"`
}

// Plugin implements every hook of the task type protocol.
type Plugin struct {
	intn    func(n int) int
	enabled bool
}

type Option func(*Plugin)

// WithRand replaces the answer generator. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(p *Plugin) { p.intn = intn }
}

// Disabled registers the plugin in the disabled state.
func Disabled() Option {
	return func(p *Plugin) { p.enabled = false }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{intn: rand.IntN, enabled: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Meta() tasktype.Meta {
	return tasktype.Meta{
		ID:          ID,
		Name:        "Guess the number",
		Description: "Subscribers guess an integer in a range and learn whether each guess is too low or too high.",
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

func (p *Plugin) TaskDataToPlainObject(task *models.Task, _ *auth.Principal) (any, error) {
	if len(task.Data) == 0 {
		return map[string]any{}, nil
	}
	d, err := decodeTaskData(task)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Plugin) PostTaskData(hc *tasktype.HookContext, task *models.Task, req *tasktype.Request) (*tasktype.Response, error) {
	var in postTaskDataInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if *in.Min >= *in.Max {
		return nil, apperror.Schema("Invalid min and max")
	}

	if in.Total != nil {
		total := *in.Total
		task.Total = &total
		task.Remain = &total
	} else {
		unbounded := models.Unbounded
		task.Total = &unbounded
		task.Remain = nil
	}
	d := taskData{
		Min:           *in.Min,
		Max:           *in.Max,
		MaxGuessTimes: in.MaxGuessTimes,
		SignupOptions: tasktype.SignupOptions{
			SubmitMultipleTimes: in.SubmitMultipleTimes,
			SignupMultipleTimes: in.SignupMultipleTimes,
			NoSignup:            in.NoSignup,
			SubmitAutoPass:      in.SubmitAutoPass,
		},
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, apperror.Internal("Failed to encode task data", err)
	}
	// posting new settings starts a fresh round of signups
	if err := hc.Tasks.ClearMembers(hc.Ctx, task.ID); err != nil {
		return nil, err
	}
	task.Data = raw
	task.Valid = true
	return nil, nil
}

// GetTaskData adds the caller's participation status for subscribers looking
// at a published task. Everyone else gets the default projection.
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
	return tasktype.OK(struct {
		UserStatus tasktype.UserStatus `json:"userStatus"`
		taskData
	}{st, d}), nil
}

type assignmentView struct {
	Signup     bool `json:"signup"`
	GuessTimes int  `json:"guessTimes"`
	Finished   bool `json:"finished"`
	Answer     *int `json:"answer,omitempty"`
	Compare    *int `json:"compare,omitempty"`
}

func (p *Plugin) AssignmentDataToPlainObject(a *models.Assignment, _ *auth.Principal) (any, error) {
	if a.Signup {
		return map[string]bool{"signup": true}, nil
	}
	d, err := decodeAssignmentData(a)
	if err != nil {
		return nil, err
	}
	v := assignmentView{
		GuessTimes: len(d.Guesses),
		Finished:   a.Valid,
		Compare:    d.Compare,
	}
	// the answer is only revealed once guessing is over
	if a.Valid {
		answer := d.Answer
		v.Answer = &answer
	}
	return v, nil
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
	raw, err := json.Marshal(assignmentData{
		Answer:  d.Min + p.intn(d.Max-d.Min+1),
		Guesses: []int{},
	})
	if err != nil {
		return nil, apperror.Internal("Failed to encode assignment data", err)
	}
	a.Data = raw
	a.Summary = notFinished(0)
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

// PostAssignmentData records one guess. Guessing is stateful so the
// assignment is saved here and the comparison is returned directly.
func (p *Plugin) PostAssignmentData(hc *tasktype.HookContext, a *models.Assignment, req *tasktype.Request) (*tasktype.Response, error) {
	var in postAssignmentDataInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if a.Signup {
		return nil, apperror.Invalid("Signup assignments take no guesses")
	}
	if a.Valid {
		return nil, apperror.Invalid("Assignment already finished")
	}
	d, err := decodeAssignmentData(a)
	if err != nil {
		return nil, err
	}

	guess := *in.Guess
	d.Guesses = append(d.Guesses, guess)
	compare := 0
	switch {
	case guess < d.Answer:
		compare = -1
	case guess > d.Answer:
		compare = 1
	}
	d.Compare = &compare

	if compare == 0 {
		a.Valid = true
		a.Summary = fmt.Sprintf("Finished in %d guesses, correct", len(d.Guesses))
	} else {
		task, err := tasktype.LoadTask(hc, a)
		if err != nil {
			return nil, err
		}
		td, err := decodeTaskData(task)
		if err != nil {
			return nil, err
		}
		if td.MaxGuessTimes != nil && len(d.Guesses) >= *td.MaxGuessTimes {
			a.Valid = true
			a.Summary = fmt.Sprintf("Finished in %d guesses, wrong", len(d.Guesses))
		} else {
			a.Summary = notFinished(len(d.Guesses))
		}
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, apperror.Internal("Failed to encode assignment data", err)
	}
	a.Data = raw
	if err := hc.Assignments.Save(hc.Ctx, a); err != nil {
		return nil, err
	}

	if !req.QueryBool("data") {
		return tasktype.OK(map[string]int{"compare": compare}), nil
	}
	view, err := p.AssignmentDataToPlainObject(a, req.Principal)
	if err != nil {
		return nil, err
	}
	v := view.(assignmentView)
	v.Compare = &compare
	return tasktype.OK(v), nil
}

func notFinished(guesses int) string {
	return fmt.Sprintf("Not finished, %d guesses", guesses)
}

var (
	_ tasktype.TaskDataProjector       = (*Plugin)(nil)
	_ tasktype.TaskDataPoster          = (*Plugin)(nil)
	_ tasktype.TaskDataGetter          = (*Plugin)(nil)
	_ tasktype.AssignmentDataProjector = (*Plugin)(nil)
	_ tasktype.AssignmentCreator       = (*Plugin)(nil)
	_ tasktype.AssignmentStatusWatcher = (*Plugin)(nil)
	_ tasktype.AssignmentDataPoster    = (*Plugin)(nil)
)
