// Package task はタスクのドメインロジックを提供する。
package task

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

// Authorizer はタスクが属するプロジェクトに対する認可チェック。
type Authorizer interface {
	AssertOwnerOrLead(ctx context.Context, projectID, userID string) (*model.Project, error)
	AssertOwner(ctx context.Context, projectID, userID string) (*model.Project, error)
	AssertMember(ctx context.Context, projectID, userID string) (*model.Project, error)
}

// CreateInput はタスク作成の入力。
type CreateInput struct {
	ProjectID   string
	Title       string
	Description *string
	Status      model.TaskStatus
	Priority    model.TaskPriority
	DueDate     *time.Time
	AssigneeID  *string
}

// UpdateInput はタスク更新の入力。nilのフィールドは変更しない。
// AssigneeIDに空文字を指定すると担当者を外す。
// ClearDueDateがtrueなら期限を外し、DueDateは無視する。
type UpdateInput struct {
	Title        *string
	Description  *string
	Status       *model.TaskStatus
	Priority     *model.TaskPriority
	DueDate      *time.Time
	ClearDueDate bool
	AssigneeID   *string
}

// Service はタスクのサービス層。
type Service struct {
	tasks     repository.TaskRepository
	guard     Authorizer
	sanitizer security.ContentSanitizerService
	recorder  *activity.Recorder
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	tasks repository.TaskRepository,
	activities repository.ActivityRepository,
	guard Authorizer,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		tasks:     tasks,
		guard:     guard,
		sanitizer: sanitizer,
		recorder:  activity.NewRecorder(activities),
		now:       time.Now,
	}
}

// List はユーザーが参照できるプロジェクトのタスクを条件で絞り込んで返す。
func (s *Service) List(ctx context.Context, userID string, filter model.TaskFilter) ([]model.Task, error) {
	tasks, err := s.tasks.ListVisibleTo(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Get はタスクを取得する。プロジェクトのメンバー以外には見せない。
func (s *Service) Get(ctx context.Context, taskID, userID string) (*model.Task, error) {
	t, err := s.find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.AssertMember(ctx, t.ProjectID, userID); err != nil {
		return nil, err
	}
	return t, nil
}

// Create はタスクを作成する。プロジェクトのオーナーのみ実行できる。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	if _, err := s.guard.AssertOwner(ctx, in.ProjectID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	t := &model.Task{
		ID:          uuid.New().String(),
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Description: s.sanitizer.SanitizeDescription(in.Description),
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		AssigneeID:  emptyToNil(in.AssigneeID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = model.TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = model.TaskPriorityMedium
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrInvalidReference) {
			return nil, model.NewValidationError("projectIdまたはassigneeIdが存在しません")
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.recorder.Record(ctx, t.ProjectID, userID, model.ActivityTaskCreated, activity.Ref(t.ID))
	slog.Info("task created",
		slog.String("task_id", t.ID),
		slog.String("project_id", t.ProjectID),
	)
	return t, nil
}

// Update はタスクを更新する。プロジェクトのオーナーまたはLEADのみ実行できる。
func (s *Service) Update(ctx context.Context, taskID, userID string, in UpdateInput) (*model.Task, error) {
	t, err := s.find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.AssertOwnerOrLead(ctx, t.ProjectID, userID); err != nil {
		return nil, err
	}

	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = s.sanitizer.SanitizeDescription(in.Description)
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	switch {
	case in.ClearDueDate:
		t.DueDate = nil
	case in.DueDate != nil:
		t.DueDate = in.DueDate
	}
	if in.AssigneeID != nil {
		t.AssigneeID = emptyToNil(in.AssigneeID)
	}
	t.UpdatedAt = s.now()

	if err := s.tasks.Update(ctx, t); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewTaskNotFoundError(taskID)
		case errors.Is(err, repository.ErrInvalidReference):
			return nil, model.NewValidationError("assigneeIdが存在しません")
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	s.recorder.Record(ctx, t.ProjectID, userID, model.ActivityTaskUpdated, activity.Ref(t.ID))
	return t, nil
}

// Delete はタスクを削除する。プロジェクトのオーナーまたはLEADのみ実行できる。
func (s *Service) Delete(ctx context.Context, taskID, userID string) error {
	t, err := s.find(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.guard.AssertOwnerOrLead(ctx, t.ProjectID, userID); err != nil {
		return err
	}

	if err := s.tasks.Delete(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewTaskNotFoundError(taskID)
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.recorder.Record(ctx, t.ProjectID, userID, model.ActivityTaskDeleted, activity.Ref(taskID))
	return nil
}

func (s *Service) find(ctx context.Context, taskID string) (*model.Task, error) {
	t, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if t == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
