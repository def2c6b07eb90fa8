package store

import (
	"context"
	"errors"
	"fmt"

	"crowdtask-api/internal/models"

	"gorm.io/gorm"
)

// AssignmentFilter narrows an assignment listing. Zero fields do not filter.
type AssignmentFilter struct {
	Task       string
	Publisher  string
	Subscriber string
	Status     []models.AssignmentStatus
	Signup     *bool
	// ScopePublisher and ScopeSubscriber restrict rows to those the caller is
	// party to. When both are set a row matching either is kept.
	ScopePublisher  string
	ScopeSubscriber string
}

type AssignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) WithTx(tx *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: tx}
}

func (r *AssignmentRepository) Create(ctx context.Context, a *models.Assignment) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	return &a, nil
}

func (r *AssignmentRepository) Save(ctx context.Context, a *models.Assignment) error {
	result := r.db.WithContext(ctx).Model(a).Select("*").Omit("id", "created_at").Updates(a)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveIfStatus writes every column only while the stored status still equals
// expected.
func (r *AssignmentRepository) SaveIfStatus(ctx context.Context, a *models.Assignment, expected models.AssignmentStatus) error {
	result := r.db.WithContext(ctx).Model(a).
		Where("status = ?", expected).
		Select("*").Omit("id", "created_at").
		Updates(a)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *AssignmentRepository) SoftDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Assignment{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AssignmentRepository) filtered(ctx context.Context, f AssignmentFilter) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&models.Assignment{})
	switch {
	case f.ScopePublisher != "" && f.ScopeSubscriber != "":
		db = db.Where("(publisher = ? OR subscriber = ?)", f.ScopePublisher, f.ScopeSubscriber)
	case f.ScopePublisher != "":
		db = db.Where("publisher = ?", f.ScopePublisher)
	case f.ScopeSubscriber != "":
		db = db.Where("subscriber = ?", f.ScopeSubscriber)
	}
	if f.Task != "" {
		db = db.Where("task = ?", f.Task)
	}
	if f.Publisher != "" {
		db = db.Where("publisher = ?", f.Publisher)
	}
	if f.Subscriber != "" {
		db = db.Where("subscriber = ?", f.Subscriber)
	}
	if len(f.Status) > 0 {
		db = db.Where("status IN ?", f.Status)
	}
	if f.Signup != nil {
		db = db.Where("signup = ?", *f.Signup)
	}
	return db
}

func (r *AssignmentRepository) Find(ctx context.Context, f AssignmentFilter, page Page) ([]models.Assignment, error) {
	var list []models.Assignment
	if err := page.apply(r.filtered(ctx, f)).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to find assignments: %w", err)
	}
	return list, nil
}

func (r *AssignmentRepository) Count(ctx context.Context, f AssignmentFilter) (int64, error) {
	var n int64
	if err := r.filtered(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

// Exists reports whether any non-deleted assignment matches f.
func (r *AssignmentRepository) Exists(ctx context.Context, f AssignmentFilter) (bool, error) {
	var ids []string
	if err := r.filtered(ctx, f).Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, fmt.Errorf("failed to query assignments: %w", err)
	}
	return len(ids) > 0, nil
}
