package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
)

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertActivity はアクティビティを1件書き込む。
// 呼び出し側のトランザクション内でも単独でも使える。
func insertActivity(ctx context.Context, db execer, a *model.ProjectActivity) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO project_activities (id, project_id, actor_id, action, entity_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ProjectID, a.ActorID, a.Action, a.EntityRef, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// PostgresActivityRepo はPostgreSQLを使用したアクティビティリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Create はアクティビティを1件記録する。
func (r *PostgresActivityRepo) Create(ctx context.Context, activity *model.ProjectActivity) error {
	return insertActivity(ctx, r.db, activity)
}

// ListByProject は新しい順に最大limit件のアクティビティを返す。
func (r *PostgresActivityRepo) ListByProject(ctx context.Context, projectID string, limit int) ([]model.ProjectActivity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, actor_id, action, entity_ref, created_at
		 FROM project_activities
		 WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := []model.ProjectActivity{}
	for rows.Next() {
		var a model.ProjectActivity
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.Action, &a.EntityRef, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}

// DeleteOlderThan は保持期間を過ぎたアクティビティを削除し、削除件数を返す。
func (r *PostgresActivityRepo) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_activities
		 WHERE created_at < NOW() - make_interval(days => $1)`,
		retentionDays,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old activities: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
