package middleware

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName は開発環境で使うセッションCookie名。
	SessionCookieName = "sessionId"

	// SecureSessionCookieName は本番環境で使うセッションCookie名。
	// __Host- 接頭辞によりSecure・Path=/・Domainなしがブラウザに強制される。
	SecureSessionCookieName = "__Host-sessionId"
)

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// NewCookieConfig は実行環境に応じたセッションCookie設定を返す。
// MaxAgeにはアイドルタイムアウトを指定する。
func NewCookieConfig(production bool, idleTTL time.Duration) CookieConfig {
	name := SessionCookieName
	if production {
		name = SecureSessionCookieName
	}
	return CookieConfig{
		Name:   name,
		Secure: production,
		MaxAge: idleTTL,
	}
}

// SetSession はセッションIDをCookieに設定する。
func (c CookieConfig) SetSession(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, c.cookie(sessionID, int(c.MaxAge.Seconds())))
}

// ClearSession はセッションCookieを削除する。設定時と同じ属性で即時失効させる。
func (c CookieConfig) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

// ReadSession はリクエストのCookieからセッションIDを取り出す。ない場合は空文字を返す。
func (c CookieConfig) ReadSession(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c CookieConfig) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
