// Package session はRedisを使ったサーバーサイドセッションの管理を提供する。
//
// セッションは session:<id> キーにJSONで保存され、キーのTTLがアイドルタイムアウト、
// ペイロード内の absoluteExpiry が絶対タイムアウトを表す。
// ユーザーごとに発行済みセッションIDを user:sessions:<userId> セットで追跡し、
// 一括失効に利用する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user:sessions:"

	// sessionIDBytes はセッションIDの乱数バイト数（256ビット）。
	sessionIDBytes = 32

	// pruneScanCount はSCAN 1回あたりの取得件数の目安。
	pruneScanCount = 100
)

var (
	// ErrSessionCreationFailed はセッションの保存に失敗したことを表す。
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrStoreUnavailable はセッションストアへのアクセスに失敗したことを表す。
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Config はセッションの有効期間設定。
type Config struct {
	IdleTTL     time.Duration // アイドルタイムアウト（キーのTTL）
	AbsoluteTTL time.Duration // 作成時刻からの絶対タイムアウト
}

// Manager はセッションの作成・取得・延長・削除を行う。
type Manager struct {
	rdb    redis.UniversalClient
	config Config
	now    func() time.Time
	random io.Reader
	logger *slog.Logger
}

// Option はManagerの生成オプション。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替える。絶対タイムアウトのテストで使用する。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRandom はセッションID生成に使う乱数源を差し替える。
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// WithLogger はロガーを指定する。
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager はManagerを生成する。
func NewManager(rdb redis.UniversalClient, config Config, opts ...Option) *Manager {
	m := &Manager{
		rdb:    rdb,
		config: config,
		now:    time.Now,
		random: rand.Reader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTTL はアイドルタイムアウトを返す。Cookieの Max-Age に使用する。
func (m *Manager) IdleTTL() time.Duration {
	return m.config.IdleTTL
}

// Create は新しいセッションを発行し、そのIDを返す。
// セッション本体の保存、ユーザー索引への追加、索引TTLの再設定を1つのパイプラインで行う。
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	id, err := m.generateID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	now := m.now()
	payload, err := json.Marshal(&model.Session{
		UserID:         userID,
		CreatedAt:      now.UTC(),
		AbsoluteExpiry: now.Add(m.config.AbsoluteTTL).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	userKey := userSessionsKey(userID)
	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(id), payload, m.config.IdleTTL)
	pipe.SAdd(ctx, userKey, id)
	pipe.Expire(ctx, userKey, m.config.AbsoluteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("failed to create session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	return id, nil
}

// Get は指定IDのセッションを取得する。
// キーが存在しない場合、およびペイロードが壊れている場合は (nil, nil) を返す。
// ストアへのアクセスに失敗した場合は ErrStoreUnavailable を返す。
// 絶対タイムアウトの判定は呼び出し側で行う。
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}

	raw, err := m.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, ok := decode(raw)
	if !ok {
		m.logger.Warn("malformed session payload",
			slog.Int("payload_bytes", len(raw)),
		)
		return nil, nil
	}
	sess.ID = id
	return sess, nil
}

// Refresh はセッションキーのTTLをアイドルタイムアウトに再設定する。
// 絶対タイムアウトは変更しない。キーが既に消えている場合は何もしない。
func (m *Manager) Refresh(ctx context.Context, id string) error {
	ok, err := m.rdb.Expire(ctx, sessionKey(id), m.config.IdleTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		m.logger.Debug("session vanished before refresh")
	}
	return nil
}

// Delete はセッションを削除し、ユーザー索引からも取り除く。
// 存在しないIDに対しても成功する（冪等）。
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	// 索引から外すためにユーザーIDを先に読む
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if sess != nil {
		pipe.SRem(ctx, userSessionsKey(sess.UserID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser はユーザーの全セッションを失効させる。
// 退会時などの一括失効に使用する。
func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := userSessionsKey(userID)

	ids, err := m.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pipe := m.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.logger.Info("all sessions revoked",
		slog.String("user_id", userID),
		slog.Int("session_count", len(ids)),
	)
	return nil
}

// PruneIndexes はユーザー索引から、既に期限切れで消えたセッションIDを取り除く。
// 取り除いたID数を返す。ワーカーから定期的に実行する。
func (m *Manager) PruneIndexes(ctx context.Context) (int, error) {
	removed := 0
	iter := m.rdb.Scan(ctx, 0, userSessionKeyPrefix+"*", pruneScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := m.pruneIndex(ctx, iter.Val())
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

// pruneIndex は1つのユーザー索引を掃除する。
func (m *Manager) pruneIndex(ctx context.Context, userKey string) (int, error) {
	ids, err := m.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := m.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := m.rdb.SRem(ctx, userKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return len(stale), nil
}

// generateID は暗号的に安全な256ビットのセッションIDを16進文字列で生成する。
func (m *Manager) generateID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// decode はセッションのペイロードを復元する。必須項目が欠けていればfalseを返す。
func decode(raw []byte) (*model.Session, bool) {
	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false
	}
	if sess.UserID == "" || sess.AbsoluteExpiry.IsZero() {
		return nil, false
	}
	return &sess, true
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userID string) string {
	return userSessionKeyPrefix + userID
}
