package lifecycle

import (
	"context"
	"strings"
	"time"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/models"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
)

func queryTime(req *tasktype.Request, key string) (*time.Time, error) {
	v := req.Query.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperror.Schema("Invalid " + key)
	}
	return &t, nil
}

func queryOptionalBool(req *tasktype.Request, key string) (*bool, error) {
	if req.Query == nil || !req.Query.Has(key) {
		return nil, nil
	}
	v, err := parseBoolQuery(req, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) taskFilter(req *tasktype.Request) (store.TaskFilter, error) {
	var f store.TaskFilter
	q := req.Query
	if q == nil {
		return f, nil
	}
	f.Search = strings.Fields(q.Get("search"))
	f.Name = q.Get("name")
	f.Publisher = q.Get("publisher")
	f.Tag = q.Get("tag")
	f.Type = q.Get("type")
	if v := q.Get("status"); v != "" {
		st, ok := models.ParseTaskStatus(v)
		if !ok {
			return f, apperror.Schema("Invalid status")
		}
		f.Status = &st
	}
	var err error
	if f.DeadlineFrom, err = queryTime(req, "deadlineFrom"); err != nil {
		return f, err
	}
	if f.DeadlineTo, err = queryTime(req, "deadlineTo"); err != nil {
		return f, err
	}
	if f.Completed, err = queryOptionalBool(req, "completed"); err != nil {
		return f, err
	}
	return f, nil
}

// FindTask lists tasks newest first. Task admins see everything, publishers
// their own tasks and everybody else published tasks only.
func (s *Service) FindTask(ctx context.Context, req *tasktype.Request) (*Result, error) {
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	count, err := parseBoolQuery(req, "count")
	if err != nil {
		return nil, err
	}
	page, err := parsePage(req)
	if err != nil {
		return nil, err
	}
	f, err := s.taskFilter(req)
	if err != nil {
		return nil, err
	}

	p := req.Principal
	switch {
	case p.HasRole(auth.RoleTaskAdmin):
	case p.HasRole(auth.RolePublisher):
		if f.Publisher != "" && f.Publisher != p.UID {
			return nil, apperror.Schema("Invalid publisher")
		}
		f.Publisher = p.UID
	default:
		published := models.TaskPublished
		if f.Status != nil && *f.Status != published {
			return nil, apperror.Schema("Invalid status")
		}
		f.Status = &published
	}

	tasks := s.read(ctx, req).Tasks
	list, err := tasks.Find(ctx, f, page)
	if err != nil {
		return nil, s.fail(err)
	}
	result := listResult{LastID: page.LastID}
	if len(list) > 0 {
		result.LastID = list[len(list)-1].ID
	}
	if populate {
		result.Data = list
	} else {
		ids := make([]string, len(list))
		for i := range list {
			ids[i] = list[i].ID
		}
		result.Data = ids
	}
	if count {
		n, err := tasks.Count(ctx, f)
		if err != nil {
			return nil, s.fail(err)
		}
		result.Total = &n
	}
	return ok(result), nil
}

func (s *Service) assignmentFilter(req *tasktype.Request) (store.AssignmentFilter, error) {
	var f store.AssignmentFilter
	q := req.Query
	if q == nil {
		return f, nil
	}
	f.Task = q.Get("task")
	f.Publisher = q.Get("publisher")
	f.Subscriber = q.Get("subscriber")
	for _, v := range q["status"] {
		st, ok := models.ParseAssignmentStatus(v)
		if !ok {
			return f, apperror.Schema("Invalid status")
		}
		f.Status = append(f.Status, st)
	}
	var err error
	if f.Signup, err = queryOptionalBool(req, "signup"); err != nil {
		return f, err
	}
	return f, nil
}

// FindAssignment lists assignments the caller is party to, newest first.
// Task admins see everything.
func (s *Service) FindAssignment(ctx context.Context, req *tasktype.Request) (*Result, error) {
	p := req.Principal
	if !p.HasAnyRole(auth.RoleSubscriber | auth.RolePublisher | auth.RoleTaskAdmin) {
		return nil, apperror.Permission("Permission denied")
	}
	populate, err := parseBoolQuery(req, "populate")
	if err != nil {
		return nil, err
	}
	withData, err := parseBoolQuery(req, "data")
	if err != nil {
		return nil, err
	}
	count, err := parseBoolQuery(req, "count")
	if err != nil {
		return nil, err
	}
	page, err := parsePage(req)
	if err != nil {
		return nil, err
	}
	f, err := s.assignmentFilter(req)
	if err != nil {
		return nil, err
	}

	if !p.HasRole(auth.RoleTaskAdmin) {
		if p.HasRole(auth.RolePublisher) {
			f.ScopePublisher = p.UID
		}
		if p.HasRole(auth.RoleSubscriber) {
			f.ScopeSubscriber = p.UID
		}
		// a filter may only name someone else when the other scope covers the row
		if f.Publisher != "" && f.Publisher != p.UID && f.ScopeSubscriber == "" {
			return nil, apperror.Schema("Invalid publisher")
		}
		if f.Subscriber != "" && f.Subscriber != p.UID && f.ScopePublisher == "" {
			return nil, apperror.Schema("Invalid subscriber")
		}
	}

	assignments := s.read(ctx, req).Assignments
	list, err := assignments.Find(ctx, f, page)
	if err != nil {
		return nil, s.fail(err)
	}
	result := listResult{LastID: page.LastID}
	if len(list) > 0 {
		result.LastID = list[len(list)-1].ID
	}
	if populate {
		if withData {
			for i := range list {
				if list[i].View, err = s.projectAssignment(&list[i], p); err != nil {
					return nil, s.fail(err)
				}
			}
		}
		result.Data = list
	} else {
		ids := make([]string, len(list))
		for i := range list {
			ids[i] = list[i].ID
		}
		result.Data = ids
	}
	if count {
		n, err := assignments.Count(ctx, f)
		if err != nil {
			return nil, s.fail(err)
		}
		result.Total = &n
	}
	return ok(result), nil
}
