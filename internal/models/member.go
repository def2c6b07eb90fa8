package models

import "time"

// MemberList names a per-task user list maintained by task type plugins.
type MemberList string

const (
	ListSigned  MemberList = "signed"
	ListBlocked MemberList = "blocked"
)

// TaskMember is one entry of a per-task user list. The composite key makes
// appends idempotent.
type TaskMember struct {
	TaskID    string     `json:"taskId" gorm:"primaryKey;column:task_id"`
	List      MemberList `json:"list" gorm:"primaryKey"`
	UserID    string     `json:"userId" gorm:"primaryKey;column:user_id"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (TaskMember) TableName() string {
	return "task_members"
}
