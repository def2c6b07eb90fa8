package tasktype

import (
	"encoding/json"
	"errors"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/store"
)

// Summary strings shared by the bundled task types.
const (
	SummarySignup = "Signup"
)

// SignupOptions are the participation settings shared by task types that
// support a signup sub-flow. They are stored inside task.Data.
type SignupOptions struct {
	// SubmitMultipleTimes lets a subscriber hold more than one assignment.
	SubmitMultipleTimes bool `json:"submitMultipleTimes,omitempty"`
	// SignupMultipleTimes lets a rejected subscriber sign up again.
	SignupMultipleTimes bool `json:"signupMultipleTimes,omitempty"`
	// NoSignup skips the signup step entirely.
	NoSignup bool `json:"noSignup,omitempty"`
	// SubmitAutoPass admits assignments as soon as they are submitted.
	SubmitAutoPass bool `json:"submitAutoPass,omitempty"`
}

// SignupPayload is the optional "data" member of a create-assignment request.
type SignupPayload struct {
	Signup bool `json:"signup"`
}

// DecodeSignupPayload accepts a nil payload as a regular assignment request.
func DecodeSignupPayload(payload json.RawMessage) (SignupPayload, error) {
	var p SignupPayload
	if len(payload) == 0 || string(payload) == "null" {
		return p, nil
	}
	if err := apperror.DecodeJSON(payload, &p); err != nil {
		return p, err
	}
	return p, nil
}

// CreateSignup turns the skeleton into a signup request awaiting the
// publisher's decision.
func (o SignupOptions) CreateSignup(hc *HookContext, task *models.Task, a *models.Assignment) error {
	if o.NoSignup {
		return apperror.Invalid("Task requires no signup")
	}
	signed, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListSigned, a.Subscriber)
	if err != nil {
		return err
	}
	if signed {
		return apperror.Invalid("User has already signed up")
	}
	if !o.SignupMultipleTimes {
		blocked, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListBlocked, a.Subscriber)
		if err != nil {
			return err
		}
		if blocked {
			return apperror.Invalid("User has been blocked")
		}
	}
	signing, err := o.signing(hc, task.ID, a.Subscriber)
	if err != nil {
		return err
	}
	if signing {
		return apperror.Invalid("User has already created a signup request")
	}

	a.Signup = true
	a.Valid = true
	a.Summary = SummarySignup
	a.Status = models.AssignmentSubmitted
	a.Data = []byte(`{"signup":true}`)
	return nil
}

func (o SignupOptions) signing(hc *HookContext, taskID, subscriber string) (bool, error) {
	signup := true
	return hc.Assignments.Exists(hc.Ctx, store.AssignmentFilter{
		Task:       taskID,
		Subscriber: subscriber,
		Status:     []models.AssignmentStatus{models.AssignmentSubmitted},
		Signup:     &signup,
	})
}

func (o SignupOptions) created(hc *HookContext, taskID, subscriber string) (bool, error) {
	signup := false
	return hc.Assignments.Exists(hc.Ctx, store.AssignmentFilter{
		Task:       taskID,
		Subscriber: subscriber,
		Status:     models.OutstandingStatuses(),
		Signup:     &signup,
	})
}

// CheckSubmission enforces the rules for a regular (non-signup) assignment:
// open capacity, deadline, signup and duplicates.
func (o SignupOptions) CheckSubmission(hc *HookContext, task *models.Task, subscriber string) error {
	if err := CheckOpen(hc, task); err != nil {
		return err
	}
	if !o.NoSignup {
		signed, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListSigned, subscriber)
		if err != nil {
			return err
		}
		if !signed {
			return apperror.Invalid("User has not signed up")
		}
	}
	if !o.SubmitMultipleTimes {
		created, err := o.created(hc, task.ID, subscriber)
		if err != nil {
			return err
		}
		if created {
			return apperror.Invalid("User has already created an assignment")
		}
	}
	return nil
}

// CheckOpen fails when the task has no capacity left or is past its deadline.
func CheckOpen(hc *HookContext, task *models.Task) error {
	if task.Completed() || task.Expired(hc.Time()) {
		return apperror.Invalid("Task has completed")
	}
	return nil
}

// LoadTask loads the task an assignment belongs to. A deleted task is an
// invalid state rather than a missing entity.
func LoadTask(hc *HookContext, a *models.Assignment) (*models.Task, error) {
	task, err := hc.Tasks.FindByID(hc.Ctx, a.Task)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.Invalid("Task deleted")
		}
		return nil, err
	}
	return task, nil
}

// StatusChanged applies the shared side effects of an assignment status
// change: member lists for signups, auto-pass and capacity for the rest.
func (o SignupOptions) StatusChanged(hc *HookContext, task *models.Task, a *models.Assignment) error {
	if a.Signup {
		switch {
		case a.Status == models.AssignmentAdmitted:
			_, err := hc.Tasks.AppendMember(hc.Ctx, a.Task, models.ListSigned, a.Subscriber)
			return err
		case a.Status == models.AssignmentRejected && !o.SignupMultipleTimes:
			_, err := hc.Tasks.AppendMember(hc.Ctx, a.Task, models.ListBlocked, a.Subscriber)
			return err
		}
		return nil
	}

	if o.SubmitAutoPass && a.Status == models.AssignmentSubmitted {
		a.Status = models.AssignmentAdmitted
	}
	if a.Status == models.AssignmentAdmitted {
		return ConsumeCapacity(hc, task)
	}
	return nil
}

// ConsumeCapacity takes one unit of a bounded task's remaining capacity.
// Unbounded tasks are left alone.
func ConsumeCapacity(hc *HookContext, task *models.Task) error {
	if !task.Bounded() {
		return nil
	}
	ok, err := hc.Tasks.DecrementRemain(hc.Ctx, task.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Invalid("Task has completed")
	}
	return nil
}

// UserStatus is what a subscriber sees about their own participation.
type UserStatus struct {
	Signed  bool  `json:"signed"`
	Blocked bool  `json:"blocked"`
	Signing *bool `json:"signing,omitempty"`
	Created *bool `json:"created,omitempty"`
}

func (o SignupOptions) UserStatus(hc *HookContext, task *models.Task, uid string) (UserStatus, error) {
	var st UserStatus
	if o.NoSignup {
		st.Signed = true
	} else {
		signed, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListSigned, uid)
		if err != nil {
			return st, err
		}
		st.Signed = signed
		if !signed {
			signing, err := o.signing(hc, task.ID, uid)
			if err != nil {
				return st, err
			}
			st.Signing = &signing
		}
		if !o.SignupMultipleTimes {
			blocked, err := hc.Tasks.HasMember(hc.Ctx, task.ID, models.ListBlocked, uid)
			if err != nil {
				return st, err
			}
			st.Blocked = blocked
		}
	}
	if st.Signed && !o.SubmitMultipleTimes {
		created, err := o.created(hc, task.ID, uid)
		if err != nil {
			return st, err
		}
		st.Created = &created
	}
	return st, nil
}
