package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crowdtask-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskFilter narrows a task listing. Zero fields do not filter.
type TaskFilter struct {
	// Search terms must each appear in name, description or excerption.
	Search       []string
	Name         string
	Publisher    string
	Tag          string
	Type         string
	Status       *models.TaskStatus
	DeadlineFrom *time.Time
	DeadlineTo   *time.Time
	Completed    *bool
}

// TaskRepository provides access to task storage and the per-task member lists.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// FindByID retrieves a non-deleted task.
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

// Save writes every column of the task.
func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	result := r.db.WithContext(ctx).Model(task).Select("*").Omit("id", "created_at").Updates(task)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveIfStatus writes every column only while the stored status still equals
// expected. ErrConflict reports a lost race.
func (r *TaskRepository) SaveIfStatus(ctx context.Context, task *models.Task, expected models.TaskStatus) error {
	result := r.db.WithContext(ctx).Model(task).
		Where("status = ?", expected).
		Select("*").Omit("id", "created_at").
		Updates(task)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SoftDelete hides the task from every later read.
func (r *TaskRepository) SoftDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) filtered(ctx context.Context, f TaskFilter) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&models.Task{})
	for _, term := range f.Search {
		p := likePattern(term)
		db = db.Where(`(name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR excerption LIKE ? ESCAPE '\')`, p, p, p)
	}
	if f.Name != "" {
		db = db.Where("name = ?", f.Name)
	}
	if f.Publisher != "" {
		db = db.Where("publisher = ?", f.Publisher)
	}
	if f.Tag != "" {
		db = db.Where("EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value = ?)", f.Tag)
	}
	if f.Type != "" {
		db = db.Where("type = ?", f.Type)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.DeadlineFrom != nil {
		db = db.Where("deadline >= ?", *f.DeadlineFrom)
	}
	if f.DeadlineTo != nil {
		db = db.Where("deadline <= ?", *f.DeadlineTo)
	}
	if f.Completed != nil {
		if *f.Completed {
			db = db.Where("total >= 0 AND remain IS NOT NULL AND remain <= 0")
		} else {
			db = db.Where("(total IS NULL OR total < 0 OR remain IS NULL OR remain > 0)")
		}
	}
	return db
}

func (r *TaskRepository) Find(ctx context.Context, f TaskFilter, page Page) ([]models.Task, error) {
	var tasks []models.Task
	if err := page.apply(r.filtered(ctx, f)).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) Count(ctx context.Context, f TaskFilter) (int64, error) {
	var n int64
	if err := r.filtered(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// DecrementRemain atomically takes one unit of capacity. It returns false when
// the task is unbounded or nothing remains.
func (r *TaskRepository) DecrementRemain(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND remain IS NOT NULL AND remain > 0", id).
		UpdateColumn("remain", gorm.Expr("remain - ?", 1))
	if err := result.Error; err != nil {
		return false, fmt.Errorf("failed to decrement remain: %w", err)
	}
	return result.RowsAffected == 1, nil
}

// AdvanceProgress atomically increments the "progress" member of task.Data
// while it is below total and returns the new value. ok is false once every
// slot has been handed out.
func (r *TaskRepository) AdvanceProgress(ctx context.Context, id string) (progress int64, ok bool, err error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND total IS NOT NULL AND COALESCE(json_extract(data, '$.progress'), 0) < total", id).
		UpdateColumn("data", gorm.Expr("json_set(COALESCE(data, '{}'), '$.progress', COALESCE(json_extract(data, '$.progress'), 0) + 1)"))
	if err := result.Error; err != nil {
		return 0, false, fmt.Errorf("failed to advance progress: %w", err)
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}
	if err := r.db.WithContext(ctx).Raw("SELECT json_extract(data, '$.progress') FROM tasks WHERE id = ?", id).Scan(&progress).Error; err != nil {
		return 0, false, fmt.Errorf("failed to read progress: %w", err)
	}
	return progress, true, nil
}

// AppendMember adds the user to a task list. It returns false when the user
// was already listed.
func (r *TaskRepository) AppendMember(ctx context.Context, taskID string, list models.MemberList, userID string) (bool, error) {
	member := models.TaskMember{TaskID: taskID, List: list, UserID: userID}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member)
	if err := result.Error; err != nil {
		return false, fmt.Errorf("failed to append %s member: %w", list, err)
	}
	return result.RowsAffected == 1, nil
}

func (r *TaskRepository) HasMember(ctx context.Context, taskID string, list models.MemberList, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.TaskMember{}).
		Where("task_id = ? AND list = ? AND user_id = ?", taskID, list, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check %s member: %w", list, err)
	}
	return n > 0, nil
}

// Members lists user ids in insertion order.
func (r *TaskRepository) Members(ctx context.Context, taskID string, list models.MemberList) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.TaskMember{}).
		Where("task_id = ? AND list = ?", taskID, list).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s members: %w", list, err)
	}
	return ids, nil
}

// ClearMembers empties every list of the task.
func (r *TaskRepository) ClearMembers(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&models.TaskMember{}).Error; err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}
	return nil
}
