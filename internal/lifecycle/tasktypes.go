package lifecycle

import (
	"context"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/tasktype"
)

type setTaskTypeInput struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// GetTaskTypes lists every registered task type.
func (s *Service) GetTaskTypes(_ context.Context, _ *tasktype.Request) (*Result, error) {
	return ok(s.registry.List()), nil
}

// SetTaskTypeEnabled switches a task type on or off without a restart.
func (s *Service) SetTaskTypeEnabled(_ context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	if !req.Principal.HasRole(auth.RoleSiteAdmin) {
		return nil, apperror.Permission("Requires site admin privilege")
	}
	var in setTaskTypeInput
	if err := apperror.DecodeJSON(req.Body, &in); err != nil {
		return nil, err
	}
	if err := s.registry.SetEnabled(req.ID, *in.Enabled); err != nil {
		return nil, err
	}
	s.log.Info("task type toggled", "id", req.ID, "enabled", *in.Enabled, "by", req.Principal.UID)
	return ok(nil), nil
}

// RemoveTaskType unregisters a task type. Existing tasks keep their type and
// fail with an invalid type until it is registered again.
func (s *Service) RemoveTaskType(_ context.Context, req *tasktype.Request) (*Result, error) {
	if err := requireID(req); err != nil {
		return nil, err
	}
	if !req.Principal.HasRole(auth.RoleSiteAdmin) {
		return nil, apperror.Permission("Requires site admin privilege")
	}
	if !s.registry.Remove(req.ID) {
		return nil, apperror.NotFound("Task type not found")
	}
	return ok(nil), nil
}
