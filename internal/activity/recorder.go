// Package activity はプロジェクトに対する操作履歴の記録を提供する。
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// Recorder はアクティビティを記録する。
// 記録の失敗は呼び出し元の操作を失敗させず、ログにのみ残す。
type Recorder struct {
	repo repository.ActivityRepository
	now  func() time.Time
}

// NewRecorder はRecorderを生成する。
func NewRecorder(repo repository.ActivityRepository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// New はIDと時刻を埋めたアクティビティを生成する。
// トランザクション内で書き込む場合に使う。
func (r *Recorder) New(projectID, actorID, action string, entityRef *string) *model.ProjectActivity {
	return &model.ProjectActivity{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		ActorID:   actorID,
		Action:    action,
		EntityRef: entityRef,
		CreatedAt: r.now(),
	}
}

// Record はアクティビティを1件書き込む。
func (r *Recorder) Record(ctx context.Context, projectID, actorID, action string, entityRef *string) {
	a := r.New(projectID, actorID, action, entityRef)
	if err := r.repo.Create(ctx, a); err != nil {
		slog.Warn("failed to record activity",
			slog.String("project_id", projectID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// Ref はエンティティ参照を文字列ポインタで返す。
func Ref(id string) *string {
	return &id
}
