// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// errNoUserID はコンテキストにユーザーIDがないことを表す。
var errNoUserID = errors.New("user ID not found in context")

// 認証拒否の理由。メトリクスのラベルとログに使う。
const (
	RejectMissingCookie   = "missing_cookie"
	RejectUnknownSession  = "unknown_session"
	RejectAbsoluteTimeout = "absolute_timeout"
	RejectStoreError      = "store_error"
)

// SessionStore はセッションの検証に必要な操作。
// session.Managerの部分集合として定義する。
type SessionStore interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Refresh(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	Cookie  CookieConfig
	Metrics metrics.MetricsCollector
	Now     func() time.Time
}

// NewSessionMiddleware はCookieのセッションIDを検証し、認証済みユーザーIDを
// リクエストコンテキストに注入するミドルウェアを返す。
//
// 絶対タイムアウトを過ぎたセッションは削除してCookieを消す。
// 有効なセッションはアイドルタイムアウトを延長する。延長の失敗はリクエストを止めない。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(store SessionStore, config SessionConfig) func(next http.Handler) http.Handler {
	if config.Metrics == nil {
		config.Metrics = metrics.Noop{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	reject := func(w http.ResponseWriter, r *http.Request, reason string) {
		config.Metrics.RecordAuthRejection(reason)
		slog.Debug("request rejected by session middleware",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
		)
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			sessionID := config.Cookie.ReadSession(r)
			if sessionID == "" {
				reject(w, r, RejectMissingCookie)
				return
			}

			// 2. セッションを取得
			session, err := store.Get(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to load session", slog.String("error", err.Error()))
				reject(w, r, RejectStoreError)
				return
			}
			if session == nil {
				reject(w, r, RejectUnknownSession)
				return
			}

			// 3. 絶対タイムアウト
			if session.ExpiredAt(config.Now()) {
				if err := store.Delete(r.Context(), sessionID); err != nil {
					slog.Warn("failed to delete expired session",
						slog.String("user_id", session.UserID),
						slog.String("error", err.Error()),
					)
				}
				config.Cookie.ClearSession(w)
				slog.Info("session reached absolute timeout", slog.String("user_id", session.UserID))
				reject(w, r, RejectAbsoluteTimeout)
				return
			}

			// 4. アイドルタイムアウトを延長
			if err := store.Refresh(r.Context(), sessionID); err != nil {
				slog.Warn("failed to refresh session",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
			}

			// 5. 認証済みユーザーIDをコンテキストに注入
			annotateUserID(r.Context(), session.UserID)
			ctx := context.WithValue(r.Context(), userIDContextKey, session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errNoUserID
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
