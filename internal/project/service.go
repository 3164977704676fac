// Package project はプロジェクトとメンバーシップのドメインロジックを提供する。
// 変更系の操作はすべて認可チェックを通過してから実行する。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/activity"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
)

const (
	// DefaultActivityLimit はアクティビティ取得件数の既定値。
	DefaultActivityLimit = 50
	// MaxActivityLimit はアクティビティ取得件数の上限。
	MaxActivityLimit = 200
)

// Authorizer はプロジェクト単位の認可チェック。
type Authorizer interface {
	AssertOwnerOrLead(ctx context.Context, projectID, userID string) (*model.Project, error)
	AssertMember(ctx context.Context, projectID, userID string) (*model.Project, error)
}

// UserFinder はメールアドレスでのユーザー検索。
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// ProgressCounter はタスクのステータス別集計。
type ProgressCounter interface {
	CountByStatus(ctx context.Context, projectID string) (*model.ProjectProgress, error)
}

// CreateInput はプロジェクト作成の入力。空のフィールドには既定値を使う。
type CreateInput struct {
	Name        string
	Description *string
	LabelColor  string
	Status      model.ProjectStatus
}

// UpdateInput はプロジェクト更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Name        *string
	Description *string
	LabelColor  *string
	Status      *model.ProjectStatus
}

// Service はプロジェクトのサービス層。
type Service struct {
	projects   repository.ProjectRepository
	members    repository.MemberRepository
	activities repository.ActivityRepository
	users      UserFinder
	progress   ProgressCounter
	guard      Authorizer
	sanitizer  security.ContentSanitizerService
	recorder   *activity.Recorder
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	projects repository.ProjectRepository,
	members repository.MemberRepository,
	activities repository.ActivityRepository,
	users UserFinder,
	progress ProgressCounter,
	guard Authorizer,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		projects:   projects,
		members:    members,
		activities: activities,
		users:      users,
		progress:   progress,
		guard:      guard,
		sanitizer:  sanitizer,
		recorder:   activity.NewRecorder(activities),
		now:        time.Now,
	}
}

// ListVisible はユーザーがオーナーまたはメンバーであるプロジェクトを返す。
func (s *Service) ListVisible(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := s.projects.ListVisibleTo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// ListOwned はユーザーが所有するプロジェクトを返す。
func (s *Service) ListOwned(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := s.projects.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned projects: %w", err)
	}
	return projects, nil
}

// Get はプロジェクトを取得する。メンバー以外には見せない。
func (s *Service) Get(ctx context.Context, projectID, userID string) (*model.Project, error) {
	return s.guard.AssertMember(ctx, projectID, userID)
}

// Create はプロジェクトを作成する。作成者はオーナーかつLEADメンバーになる。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Project, error) {
	now := s.now()
	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: s.sanitizer.SanitizeDescription(in.Description),
		LabelColor:  in.LabelColor,
		Status:      in.Status,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.LabelColor == "" {
		p.LabelColor = model.DefaultLabelColor
	}
	if p.Status == "" {
		p.Status = model.ProjectStatusActive
	}

	created := s.recorder.New(p.ID, ownerID, model.ActivityProjectCreated, nil)
	if err := s.projects.CreateWithLead(ctx, p, created); err != nil {
		if errors.Is(err, repository.ErrInvalidReference) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	slog.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("owner_id", ownerID),
	)
	return p, nil
}

// Update はプロジェクトの属性を更新する。オーナーまたはLEADのみ実行できる。
func (s *Service) Update(ctx context.Context, projectID, userID string, in UpdateInput) (*model.Project, error) {
	p, err := s.guard.AssertOwnerOrLead(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = s.sanitizer.SanitizeDescription(in.Description)
	}
	if in.LabelColor != nil {
		p.LabelColor = *in.LabelColor
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	p.UpdatedAt = s.now()

	if err := s.projects.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewProjectNotFoundError(projectID)
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	s.recorder.Record(ctx, projectID, userID, model.ActivityProjectUpdated, nil)
	return p, nil
}

// Archive はプロジェクトをアーカイブする。既にアーカイブ済みの場合は日時を変えない。
func (s *Service) Archive(ctx context.Context, projectID, userID string) (*model.Project, error) {
	p, err := s.guard.AssertOwnerOrLead(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.projects.Archive(ctx, projectID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewProjectNotFoundError(projectID)
		}
		return nil, fmt.Errorf("failed to archive project: %w", err)
	}
	if p.ArchivedAt == nil {
		p.ArchivedAt = &now
	}

	s.recorder.Record(ctx, projectID, userID, model.ActivityProjectArchived, nil)
	return p, nil
}

// Delete はプロジェクトを削除する。タスク・メンバー・アクティビティも削除される。
func (s *Service) Delete(ctx context.Context, projectID, userID string) error {
	if _, err := s.guard.AssertOwnerOrLead(ctx, projectID, userID); err != nil {
		return err
	}

	if err := s.projects.Delete(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewProjectNotFoundError(projectID)
		}
		return fmt.Errorf("failed to delete project: %w", err)
	}

	slog.Info("project deleted",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
	)
	return nil
}

// ListMembers はメンバー一覧を返す。
func (s *Service) ListMembers(ctx context.Context, projectID, userID string) ([]model.ProjectMember, error) {
	if _, err := s.guard.AssertMember(ctx, projectID, userID); err != nil {
		return nil, err
	}
	members, err := s.members.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember はメールアドレスで指定したユーザーをメンバーに追加する。
// roleが空の場合はMEMBERになる。
func (s *Service) AddMember(ctx context.Context, projectID, actorID, email string, role model.MemberRole) (*model.ProjectMember, error) {
	if role == "" {
		role = model.MemberRoleMember
	}
	if !role.Valid() {
		return nil, model.NewValidationError("roleはLEAD、MEMBER、VIEWERのいずれかです")
	}

	if _, err := s.guard.AssertOwnerOrLead(ctx, projectID, actorID); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	m := &model.ProjectMember{
		ProjectID: projectID,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      role,
		JoinedAt:  s.now(),
	}
	if err := s.members.Add(ctx, m); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, model.NewMemberAlreadyExistsError()
		case errors.Is(err, repository.ErrInvalidReference):
			return nil, model.NewProjectNotFoundError(projectID)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	s.recorder.Record(ctx, projectID, actorID, model.ActivityMemberAdded, activity.Ref(user.ID))
	return m, nil
}

// UpdateMemberRole はメンバーのロールを変更する。オーナーのメンバーシップは変更できない。
func (s *Service) UpdateMemberRole(ctx context.Context, projectID, actorID, memberUserID string, role model.MemberRole) (*model.ProjectMember, error) {
	if !role.Valid() {
		return nil, model.NewValidationError("roleはLEAD、MEMBER、VIEWERのいずれかです")
	}

	p, err := s.guard.AssertOwnerOrLead(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	if memberUserID == p.OwnerID {
		return nil, model.NewOwnerMembershipLockedError()
	}

	if err := s.members.UpdateRole(ctx, projectID, memberUserID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewMemberNotFoundError(memberUserID)
		}
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}

	m, err := s.members.Find(ctx, projectID, memberUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload member: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(memberUserID)
	}

	s.recorder.Record(ctx, projectID, actorID, model.ActivityMemberUpdated, activity.Ref(memberUserID))
	return m, nil
}

// RemoveMember はメンバーをプロジェクトから外す。オーナーは外せない。
func (s *Service) RemoveMember(ctx context.Context, projectID, actorID, memberUserID string) error {
	p, err := s.guard.AssertOwnerOrLead(ctx, projectID, actorID)
	if err != nil {
		return err
	}
	if memberUserID == p.OwnerID {
		return model.NewOwnerMembershipLockedError()
	}

	if err := s.members.Remove(ctx, projectID, memberUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewMemberNotFoundError(memberUserID)
		}
		return fmt.Errorf("failed to remove member: %w", err)
	}

	s.recorder.Record(ctx, projectID, actorID, model.ActivityMemberRemoved, activity.Ref(memberUserID))
	return nil
}

// Activity はプロジェクトのアクティビティを新しい順に返す。
// limitが範囲外の場合は既定値または上限に丸める。
func (s *Service) Activity(ctx context.Context, projectID, userID string, limit int) ([]model.ProjectActivity, error) {
	if _, err := s.guard.AssertMember(ctx, projectID, userID); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultActivityLimit
	case limit > MaxActivityLimit:
		limit = MaxActivityLimit
	}

	activities, err := s.activities.ListByProject(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// Progress はタスクのステータス別件数を返す。
func (s *Service) Progress(ctx context.Context, projectID, userID string) (*model.ProjectProgress, error) {
	if _, err := s.guard.AssertMember(ctx, projectID, userID); err != nil {
		return nil, err
	}
	progress, err := s.progress.CountByStatus(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	return progress, nil
}
