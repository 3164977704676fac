// Package cleanup は定期メンテナンスジョブを提供する。
// 保持期間（デフォルト180日）を超過したプロジェクトアクティビティの削除と、
// 失効済みセッションが残ったユーザー別セッション索引の掃除を行う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
)

// 削除件数メトリクスの種別ラベル。
const (
	KindActivities   = "activities"
	KindSessionIndex = "session_index"
)

// ActivityPruner は古いアクティビティを削除する。
type ActivityPruner interface {
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// SessionIndexPruner は失効済みセッションIDをユーザー索引から取り除く。
type SessionIndexPruner interface {
	PruneIndexes(ctx context.Context) (int, error)
}

// CleanupJob はメンテナンスジョブ。
// どちらの処理も冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	activities    ActivityPruner
	sessions      SessionIndexPruner
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	RetentionDays int // アクティビティの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewCleanupJob(
	activities ActivityPruner,
	sessions SessionIndexPruner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *CleanupJob {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &CleanupJob{
		activities:    activities,
		sessions:      sessions,
		metrics:       collector,
		logger:        logger,
		RetentionDays: 180,
	}
}

// Start はinterval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Run はアクティビティ削除とセッション索引の掃除を1回ずつ実行する。
// 一方が失敗してももう一方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	if err := j.pruneActivities(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.pruneSessionIndexes(ctx); err != nil {
		errs = append(errs, err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("error_count", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

func (j *CleanupJob) pruneActivities(ctx context.Context) error {
	deleted, err := j.activities.DeleteOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("アクティビティの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("アクティビティ削除の実行に失敗: %w", err)
	}

	j.metrics.RecordCleanup(KindActivities, int(deleted))
	j.logger.Info("古いアクティビティを削除しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
	)
	return nil
}

func (j *CleanupJob) pruneSessionIndexes(ctx context.Context) error {
	removed, err := j.sessions.PruneIndexes(ctx)
	// 途中で失敗しても掃除できた分は記録する
	j.metrics.RecordCleanup(KindSessionIndex, removed)
	if err != nil {
		j.logger.Error("セッション索引の掃除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("removed_count", removed),
		)
		return fmt.Errorf("セッション索引の掃除に失敗: %w", err)
	}

	j.logger.Info("セッション索引を掃除しました",
		slog.Int("removed_count", removed),
	)
	return nil
}
