package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

const projectColumns = `p.id, p.name, p.description, p.label_color, p.status, p.owner_id, p.archived_at, p.created_at, p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	p := &model.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.LabelColor, &p.Status,
		&p.OwnerID, &p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if !isUUID(id) {
		return nil, nil
	}
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return p, nil
}

// ListVisibleTo はユーザーがオーナーまたはメンバーであるプロジェクトを新しい順に返す。
func (r *PostgresProjectRepo) ListVisibleTo(ctx context.Context, userID string) ([]model.Project, error) {
	return r.list(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 WHERE p.owner_id = $1
		    OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = $1)
		 ORDER BY p.created_at DESC`,
		userID,
	)
}

// ListByOwner はユーザーが所有するプロジェクトを新しい順に返す。
func (r *PostgresProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	return r.list(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.owner_id = $1 ORDER BY p.created_at DESC`,
		ownerID,
	)
}

func (r *PostgresProjectRepo) list(ctx context.Context, query string, args ...any) ([]model.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// CreateWithLead はプロジェクト、オーナーのLEADメンバーシップ、作成アクティビティを
// 同一トランザクションで作成する。
func (r *PostgresProjectRepo) CreateWithLead(ctx context.Context, project *model.Project, activity *model.ProjectActivity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, label_color, status, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		project.ID, project.Name, project.Description, project.LabelColor, project.Status,
		project.OwnerID, project.CreatedAt, project.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)`,
		project.ID, project.OwnerID, model.MemberRoleLead, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert owner membership: %w", err)
	}

	if err := insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update は名前・説明・ラベル色・ステータスを更新する。
func (r *PostgresProjectRepo) Update(ctx context.Context, project *model.Project) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects
		 SET name = $2, description = $3, label_color = $4, status = $5, updated_at = $6
		 WHERE id = $1`,
		project.ID, project.Name, project.Description, project.LabelColor, project.Status, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// Archive はプロジェクトをアーカイブ済みにする。既にアーカイブ済みの場合は日時を維持する。
func (r *PostgresProjectRepo) Archive(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET archived_at = COALESCE(archived_at, $2), updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to archive project: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// Delete はプロジェクトを削除する。タスク・メンバー・アクティビティはCASCADE削除される。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
