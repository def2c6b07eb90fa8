package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AssignmentStatus represents the review stage of an assignment.
type AssignmentStatus int

const (
	AssignmentEditing AssignmentStatus = iota
	AssignmentSubmitted
	AssignmentAdmitted
	AssignmentRejected
)

var assignmentStatusNames = [...]string{"EDITING", "SUBMITTED", "ADMITTED", "REJECTED"}

func (s AssignmentStatus) String() string {
	if s < 0 || int(s) >= len(assignmentStatusNames) {
		return fmt.Sprintf("AssignmentStatus(%d)", int(s))
	}
	return assignmentStatusNames[s]
}

func (s AssignmentStatus) Valid() bool {
	return s >= AssignmentEditing && s <= AssignmentRejected
}

// Outstanding reports whether the assignment still counts against the one
// submission per subscriber rule.
func (s AssignmentStatus) Outstanding() bool {
	return s != AssignmentRejected
}

// OutstandingStatuses lists the statuses for which Outstanding holds.
func OutstandingStatuses() []AssignmentStatus {
	var out []AssignmentStatus
	for s := AssignmentEditing; s.Valid(); s++ {
		if s.Outstanding() {
			out = append(out, s)
		}
	}
	return out
}

func ParseAssignmentStatus(v string) (AssignmentStatus, bool) {
	for i, name := range assignmentStatusNames {
		if strings.EqualFold(v, name) || v == fmt.Sprint(i) {
			return AssignmentStatus(i), true
		}
	}
	return 0, false
}

func (s *AssignmentStatus) UnmarshalJSON(b []byte) error {
	v, ok := statusToken(b)
	if !ok {
		return invalidStatus[AssignmentStatus](b)
	}
	parsed, ok := ParseAssignmentStatus(v)
	if !ok {
		return invalidStatus[AssignmentStatus](b)
	}
	*s = parsed
	return nil
}

// Assignment is one subscriber's submission against a task.
type Assignment struct {
	ID         string           `json:"id" gorm:"primaryKey"`
	Task       string           `json:"task" gorm:"not null;index"`
	Publisher  string           `json:"publisher" gorm:"not null;index"`
	Subscriber string           `json:"subscriber" gorm:"not null;index"`
	Type       string           `json:"type" gorm:"not null"`
	Status     AssignmentStatus `json:"status" gorm:"not null;default:0;index"`
	Valid      bool             `json:"valid" gorm:"not null;default:false"`
	Summary    string           `json:"summary"`
	// Signup marks an assignment that only requests to join a task.
	Signup    bool           `json:"signup" gorm:"not null;default:false;index"`
	Data      datatypes.JSON `json:"-"`
	View      any            `json:"data,omitempty" gorm:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Assignment) TableName() string {
	return "assignments"
}
