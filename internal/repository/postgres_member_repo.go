package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用したプロジェクトメンバーリポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// Find はメンバーシップを取得する。所属していない場合はnilを返す。
func (r *PostgresMemberRepo) Find(ctx context.Context, projectID, userID string) (*model.ProjectMember, error) {
	if !isUUID(projectID) || !isUUID(userID) {
		return nil, nil
	}
	m := &model.ProjectMember{}
	err := r.db.QueryRowContext(ctx,
		`SELECT m.project_id, m.user_id, u.email, m.role, m.joined_at
		 FROM project_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = $1 AND m.user_id = $2`,
		projectID, userID,
	).Scan(&m.ProjectID, &m.UserID, &m.Email, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project member: %w", err)
	}
	return m, nil
}

// ListByProject はプロジェクトのメンバー一覧を参加順に返す。
func (r *PostgresMemberRepo) ListByProject(ctx context.Context, projectID string) ([]model.ProjectMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.project_id, m.user_id, u.email, m.role, m.joined_at
		 FROM project_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = $1
		 ORDER BY m.joined_at ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	members := []model.ProjectMember{}
	for rows.Next() {
		var m model.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Email, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project members: %w", err)
	}
	return members, nil
}

// Add はメンバーを追加する。既に所属している場合はErrDuplicateKeyを返す。
func (r *PostgresMemberRepo) Add(ctx context.Context, member *model.ProjectMember) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		member.ProjectID, member.UserID, member.Role, member.JoinedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if isForeignKeyViolation(err) {
		return ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("failed to add project member: %w", err)
	}
	return nil
}

// UpdateRole はロールを変更する。所属していない場合はErrNotFoundを返す。
func (r *PostgresMemberRepo) UpdateRole(ctx context.Context, projectID, userID string, role model.MemberRole) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE project_members SET role = $3 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// Remove はメンバーを外す。所属していない場合はErrNotFoundを返す。
func (r *PostgresMemberRepo) Remove(ctx context.Context, projectID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove project member: %w", err)
	}
	return checkRowsAffected(result.RowsAffected())
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
