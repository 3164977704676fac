package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/session"
)

// --- モック定義 ---

type mockActivityPruner struct {
	calls   []int
	deleted int64
	err     error
}

func (m *mockActivityPruner) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	m.calls = append(m.calls, retentionDays)
	return m.deleted, m.err
}

type mockSessionPruner struct {
	calls   int
	removed int
	err     error
	ran     chan struct{} // nil以外なら呼び出しごとに通知する
}

func (m *mockSessionPruner) PruneIndexes(ctx context.Context) (int, error) {
	m.calls++
	if m.ran != nil {
		select {
		case m.ran <- struct{}{}:
		default:
		}
	}
	return m.removed, m.err
}

type cleanupRecorder struct {
	metrics.Noop
	counts map[string]int
}

func (r *cleanupRecorder) RecordCleanup(kind string, count int) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[kind] += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// logEntries はJSONログを1行ずつデコードする。
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

// --- テスト ---

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockActivityPruner{}, &mockSessionPruner{}, nil, newTestLogger(&buf))

	if job.RetentionDays != 180 {
		t.Errorf("RetentionDays = %d, want 180", job.RetentionDays)
	}
	if job.metrics == nil {
		t.Error("nil collector should be replaced with Noop")
	}
}

func TestCleanupJob_Run_PrunesBothAndRecordsMetrics(t *testing.T) {
	var buf bytes.Buffer
	acts := &mockActivityPruner{deleted: 5}
	sess := &mockSessionPruner{removed: 3}
	rec := &cleanupRecorder{}

	job := NewCleanupJob(acts, sess, rec, newTestLogger(&buf))
	job.RetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(acts.calls) != 1 || acts.calls[0] != 30 {
		t.Errorf("DeleteOlderThan calls = %v, want [30]", acts.calls)
	}
	if sess.calls != 1 {
		t.Errorf("PruneIndexes calls = %d, want 1", sess.calls)
	}
	if rec.counts[KindActivities] != 5 || rec.counts[KindSessionIndex] != 3 {
		t.Errorf("cleanup counts = %v", rec.counts)
	}

	found := false
	for _, e := range logEntries(t, &buf) {
		if e["msg"] == "古いアクティビティを削除しました" {
			found = true
			if e["deleted_count"] != float64(5) || e["retention_days"] != float64(30) {
				t.Errorf("log entry = %v", e)
			}
		}
	}
	if !found {
		t.Error("削除件数のログが出力されていない")
	}
}

func TestCleanupJob_Run_ActivityFailureStillPrunesSessions(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	acts := &mockActivityPruner{err: dbErr}
	sess := &mockSessionPruner{removed: 2}

	job := NewCleanupJob(acts, sess, nil, newTestLogger(&buf))
	err := job.Run(context.Background())

	if !errors.Is(err, dbErr) {
		t.Fatalf("Run() error = %v, want wrapping %v", err, dbErr)
	}
	if sess.calls != 1 {
		t.Error("セッション索引の掃除はアクティビティ削除の失敗後も実行されるべき")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Error("失敗時はERRORログを出力するべき")
	}
}

func TestCleanupJob_Run_JoinsBothErrors(t *testing.T) {
	var buf bytes.Buffer
	actErr := errors.New("db down")
	sessErr := session.ErrStoreUnavailable
	rec := &cleanupRecorder{}

	job := NewCleanupJob(&mockActivityPruner{err: actErr}, &mockSessionPruner{removed: 1, err: sessErr}, rec, newTestLogger(&buf))
	err := job.Run(context.Background())

	if !errors.Is(err, actErr) || !errors.Is(err, sessErr) {
		t.Errorf("Run() error = %v, want both errors", err)
	}
	if rec.counts[KindSessionIndex] != 1 {
		t.Errorf("partial session cleanup count = %d, want 1", rec.counts[KindSessionIndex])
	}
	if _, ok := rec.counts[KindActivities]; ok {
		t.Error("失敗したアクティビティ削除は記録しない")
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockActivityPruner{}, &mockSessionPruner{}, nil, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d error = %v", i, err)
		}
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	acts := &mockActivityPruner{}
	sess := &mockSessionPruner{ran: make(chan struct{}, 1)}
	job := NewCleanupJob(acts, sess, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回を待つ
	select {
	case <-sess.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後の実行が行われなかった")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
}

// TestCleanupJob_Run_WithRedisSessionIndex は実際のセッションマネージャーで
// 失効したセッションIDが索引から取り除かれることを検証する。
func TestCleanupJob_Run_WithRedisSessionIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mgr := session.NewManager(rdb, session.Config{IdleTTL: time.Minute, AbsoluteTTL: time.Hour})
	ctx := context.Background()

	expired, err := mgr.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	mr.Del("session:" + expired)
	live, err := mgr.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var buf bytes.Buffer
	rec := &cleanupRecorder{}
	job := NewCleanupJob(&mockActivityPruner{}, mgr, rec, newTestLogger(&buf))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	members, err := mr.Members("user:sessions:user-1")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0] != live {
		t.Errorf("index members = %v, want [%s]", members, live)
	}
	if rec.counts[KindSessionIndex] != 1 {
		t.Errorf("removed count = %d, want 1", rec.counts[KindSessionIndex])
	}
}
