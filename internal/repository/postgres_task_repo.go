package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `t.id, t.project_id, t.title, t.description, t.status, t.priority, t.due_date, t.assignee_id, t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	t := &model.Task{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.DueDate, &t.AssigneeID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	if !isUUID(id) {
		return nil, nil
	}
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return t, nil
}

// ListVisibleTo は条件に一致し、かつユーザーがオーナーまたはメンバーである
// プロジェクトのタスクを新しい順に返す。
func (r *PostgresTaskRepo) ListVisibleTo(ctx context.Context, userID string, filter model.TaskFilter) ([]model.Task, error) {
	query, args := buildTaskListQuery(userID, filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// buildTaskListQuery はフィルタ条件からSQLとパラメータを組み立てる。
func buildTaskListQuery(userID string, filter model.TaskFilter) (string, []any) {
	args := []any{userID}
	conds := []string{
		`(p.owner_id = $1 OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = $1))`,
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		conds = append(conds, fmt.Sprintf("t.project_id = $%d", len(args)))
	}
	if filter.AssigneeID != "" {
		args = append(args, filter.AssigneeID)
		conds = append(conds, fmt.Sprintf("t.assignee_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("t.status = $%d", len(args)))
	}

	query := `SELECT ` + taskColumns + `
		 FROM tasks t
		 JOIN projects p ON p.id = t.project_id
		 WHERE ` + strings.Join(conds, " AND ") + `
		 ORDER BY t.created_at DESC`
	return query, args
}

// Create はタスクを作成する。プロジェクトや担当者が存在しない場合はErrInvalidReferenceを返す。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, description, status, priority, due_date, assignee_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority,
		task.DueDate, task.AssigneeID, task.CreatedAt, task.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update はタスクを更新する。プロジェクトの付け替えは行わない。
func (r *PostgresTaskRepo) Update(ctx context.Context, task *model.Task) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET title = $2, description = $3, status = $4, priority = $5, due_date = $6, assignee_id = $7, updated_at = $8
		 WHERE id = $1`,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		task.DueDate, task.AssigneeID, task.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// Delete はタスクを削除する。存在しない場合はErrNotFoundを返す。
func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// CountByStatus はプロジェクトのタスク数をステータス別に集計する。
func (r *PostgresTaskRepo) CountByStatus(ctx context.Context, projectID string) (*model.ProjectProgress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = $1 GROUP BY status`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	progress := &model.ProjectProgress{}
	for rows.Next() {
		var status model.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		switch status {
		case model.TaskStatusTodo:
			progress.Todo = n
		case model.TaskStatusInProgress:
			progress.InProgress = n
		case model.TaskStatusDone:
			progress.Done = n
		}
		progress.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task counts: %w", err)
	}
	return progress, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
