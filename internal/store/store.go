package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a record does not exist or was soft deleted.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by compare-and-swap writes whose expected state
	// no longer holds.
	ErrConflict = errors.New("record was modified concurrently")
)

// Page selects one page of an id-descending listing.
type Page struct {
	// LastID is the id of the last row of the previous page.
	LastID string
	Limit  int
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	if p.LastID != "" {
		db = db.Where("id < ?", p.LastID)
	}
	db = db.Order("id DESC")
	if p.Limit > 0 {
		db = db.Limit(p.Limit)
	}
	return db
}

// Stores groups the repositories bound to one connection or transaction.
type Stores struct {
	Tasks       *TaskRepository
	Assignments *AssignmentRepository
	Users       *UserRepository
}

func New(db *gorm.DB) *Stores {
	return &Stores{
		Tasks:       NewTaskRepository(db),
		Assignments: NewAssignmentRepository(db),
		Users:       NewUserRepository(db),
	}
}

// WithTx returns repositories that run every statement inside tx.
func (s *Stores) WithTx(tx *gorm.DB) *Stores {
	return &Stores{
		Tasks:       s.Tasks.WithTx(tx),
		Assignments: s.Assignments.WithTx(tx),
		Users:       s.Users.WithTx(tx),
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
