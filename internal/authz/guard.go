package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
)

// ProjectFinder はプロジェクトの取得に必要な操作。
type ProjectFinder interface {
	FindByID(ctx context.Context, id string) (*model.Project, error)
}

// MembershipFinder はメンバーシップの取得に必要な操作。
type MembershipFinder interface {
	Find(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
}

// Guard はストアからプロジェクトとメンバーシップを読み込み、操作前の認可チェックを行う。
type Guard struct {
	projects ProjectFinder
	members  MembershipFinder
	metrics  metrics.MetricsCollector
}

// NewGuard はGuardを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewGuard(projects ProjectFinder, members MembershipFinder, collector metrics.MetricsCollector) *Guard {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Guard{projects: projects, members: members, metrics: collector}
}

type decider func(*model.Project, string, *model.ProjectMember) Decision

// AssertOwnerOrLead はuserIDがプロジェクトのオーナーまたはLEADであることを確認し、プロジェクトを返す。
// プロジェクトが存在しない場合はProjectNotFound、権限がない場合はForbiddenエラーを返す。
func (g *Guard) AssertOwnerOrLead(ctx context.Context, projectID, userID string) (*model.Project, error) {
	return g.assert(ctx, projectID, userID, Decide, "オーナーまたはリードのみ実行できます")
}

// AssertOwner はuserIDがプロジェクトのオーナーであることを確認する。
// タスク作成のみがこのチェックを使う。
func (g *Guard) AssertOwner(ctx context.Context, projectID, userID string) (*model.Project, error) {
	return g.assert(ctx, projectID, userID, DecideOwner, "プロジェクトのオーナーのみ実行できます")
}

// AssertMember はuserIDがプロジェクトを参照できることを確認する。
func (g *Guard) AssertMember(ctx context.Context, projectID, userID string) (*model.Project, error) {
	return g.assert(ctx, projectID, userID, DecideView, "プロジェクトのメンバーではありません")
}

func (g *Guard) assert(ctx context.Context, projectID, userID string, decide decider, denial string) (*model.Project, error) {
	project, err := g.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}

	var membership *model.ProjectMember
	if project.OwnerID != userID {
		membership, err = g.members.Find(ctx, projectID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load membership: %w", err)
		}
	}

	d := decide(project, userID, membership)
	if !d.Allowed {
		g.metrics.RecordAuthzDenial(d.Reason)
		slog.Info("authorization denied",
			slog.String("project_id", projectID),
			slog.String("user_id", userID),
			slog.String("reason", d.Reason),
		)
		return nil, model.NewForbiddenError(denial)
	}
	return project, nil
}
