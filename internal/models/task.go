package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskStatus represents the publication stage of a task. The integer values
// are persisted and exposed to clients.
type TaskStatus int

const (
	TaskEditing TaskStatus = iota
	TaskSubmitted
	TaskAdmitted
	TaskPublished
)

var taskStatusNames = [...]string{"EDITING", "SUBMITTED", "ADMITTED", "PUBLISHED"}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return taskStatusNames[s]
}

func (s TaskStatus) Valid() bool {
	return s >= TaskEditing && s <= TaskPublished
}

// ParseTaskStatus accepts a status name (case-insensitive) or its number.
func ParseTaskStatus(v string) (TaskStatus, bool) {
	for i, name := range taskStatusNames {
		if strings.EqualFold(v, name) || v == fmt.Sprint(i) {
			return TaskStatus(i), true
		}
	}
	return 0, false
}

// UnmarshalJSON accepts the status number or its name.
func (s *TaskStatus) UnmarshalJSON(b []byte) error {
	v, ok := statusToken(b)
	if !ok {
		return invalidStatus[TaskStatus](b)
	}
	parsed, ok := ParseTaskStatus(v)
	if !ok {
		return invalidStatus[TaskStatus](b)
	}
	*s = parsed
	return nil
}

// statusToken unquotes a JSON string or returns a JSON number as is.
func statusToken(b []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return string(b), true
	}
	return "", false
}

// invalidStatus is reported as a type error so the decoder attaches the
// field path to it.
func invalidStatus[T any](b []byte) error {
	return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeFor[T]()}
}

// Unbounded is the total of a task that accepts any number of assignments.
const Unbounded int64 = -1

// Task represents a unit of crowdsourced work posted by a publisher.
type Task struct {
	ID               string                      `json:"id" gorm:"primaryKey"`
	Publisher        string                      `json:"publisher" gorm:"not null;index"`
	Name             string                      `json:"name" gorm:"not null"`
	Description      string                      `json:"description"`
	Excerption       string                      `json:"excerption"`
	Picture          string                      `json:"picture,omitempty"`
	PictureThumbnail string                      `json:"pictureThumbnail,omitempty" gorm:"column:picture_thumbnail"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	Type             string                      `json:"type,omitempty" gorm:"index"`
	Status           TaskStatus                  `json:"status" gorm:"not null;default:0;index"`
	Valid            bool                        `json:"valid" gorm:"not null;default:false"`
	Total            *int64                      `json:"total,omitempty"`
	Remain           *int64                      `json:"remain,omitempty"`
	Deadline         *time.Time                  `json:"deadline,omitempty" gorm:"index"`
	// Data is owned by the task type plugin; the engine never inspects it.
	Data datatypes.JSON `json:"-"`
	// View is the plugin projection of Data, attached only for serialization.
	View      any            `json:"data,omitempty" gorm:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for Task Model
func (Task) TableName() string {
	return "tasks"
}

// Bounded reports whether the task limits the number of admitted assignments.
func (t *Task) Bounded() bool {
	return t.Total != nil && *t.Total >= 0 && t.Remain != nil
}

// Completed is derived: a bounded task with nothing remaining.
func (t *Task) Completed() bool {
	return t.Bounded() && *t.Remain <= 0
}

// Expired reports whether the deadline has passed.
func (t *Task) Expired(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}

func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	tags := t.Tags
	if tags == nil {
		tags = datatypes.JSONSlice[string]{}
	}
	a := alias(t)
	a.Tags = tags
	return json.Marshal(struct {
		alias
		Completed bool `json:"completed"`
	}{a, t.Completed()})
}
