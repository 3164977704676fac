// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

var (
	// ErrDuplicateKey は一意制約違反を表す。
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("record not found")

	// ErrInvalidReference は参照先の行が存在しない（外部キー制約違反）ことを表す。
	ErrInvalidReference = errors.New("invalid reference")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを登録順に返す。
	List(ctx context.Context) ([]model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// LinkGoogleAccount は既存ユーザーにGoogleアカウントを紐付け、アバターURLを更新する。
	LinkGoogleAccount(ctx context.Context, userID, googleID string, avatarURL *string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 所有プロジェクトとメンバーシップはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// ListVisibleTo はユーザーがオーナーまたはメンバーであるプロジェクトを返す。
	ListVisibleTo(ctx context.Context, userID string) ([]model.Project, error)

	// ListByOwner はユーザーが所有するプロジェクトを返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)

	// CreateWithLead はプロジェクト、オーナーのLEADメンバーシップ、作成アクティビティを
	// 同一トランザクションで作成する。
	CreateWithLead(ctx context.Context, project *model.Project, activity *model.ProjectActivity) error

	// Update は名前・説明・ラベル色・ステータスを更新する。
	Update(ctx context.Context, project *model.Project) error

	// Archive はプロジェクトをアーカイブ済みにする。
	Archive(ctx context.Context, id string, at time.Time) error

	// Delete はプロジェクトを削除する。タスク・メンバー・アクティビティはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// MemberRepository はプロジェクトメンバーシップの永続化インターフェース。
type MemberRepository interface {
	// Find はメンバーシップを取得する。所属していない場合はnilを返す。
	Find(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)

	// ListByProject はプロジェクトのメンバー一覧を参加順に返す。
	ListByProject(ctx context.Context, projectID string) ([]model.ProjectMember, error)

	// Add はメンバーを追加する。既に所属している場合はErrDuplicateKeyを返す。
	Add(ctx context.Context, member *model.ProjectMember) error

	// UpdateRole はロールを変更する。所属していない場合はErrNotFoundを返す。
	UpdateRole(ctx context.Context, projectID, userID string, role model.MemberRole) error

	// Remove はメンバーを外す。所属していない場合はErrNotFoundを返す。
	Remove(ctx context.Context, projectID, userID string) error
}

// ActivityRepository はプロジェクトアクティビティの永続化インターフェース。
type ActivityRepository interface {
	// Create はアクティビティを1件記録する。
	Create(ctx context.Context, activity *model.ProjectActivity) error

	// ListByProject は新しい順に最大limit件のアクティビティを返す。
	ListByProject(ctx context.Context, projectID string, limit int) ([]model.ProjectActivity, error)
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)

	// ListVisibleTo は条件に一致し、かつユーザーが参照可能なプロジェクトのタスクを返す。
	ListVisibleTo(ctx context.Context, userID string, filter model.TaskFilter) ([]model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はタスクを更新する。
	Update(ctx context.Context, task *model.Task) error

	// Delete はタスクを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// CountByStatus はプロジェクトのタスク数をステータス別に集計する。
	CountByStatus(ctx context.Context, projectID string) (*model.ProjectProgress, error)
}
