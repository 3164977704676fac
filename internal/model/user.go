// Package model はドメインモデルを定義する。
package model

import "time"

// ユーザーのシステムロール。
const (
	UserRoleAdmin  = "admin"
	UserRoleMember = "member"
)

// User はサービス利用ユーザーを表す。
// PasswordHashはGoogleのみで登録したユーザーではnilになる。
type User struct {
	ID           string
	Email        string
	PasswordHash *string
	GoogleID     *string
	AvatarURL    *string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワードログインが可能なユーザーかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Session はRedisに保存されるログインセッションを表す。
// キーのTTLがアイドルタイムアウト、AbsoluteExpiryが絶対タイムアウトを表す。
type Session struct {
	ID             string    `json:"-"`
	UserID         string    `json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
	AbsoluteExpiry time.Time `json:"absoluteExpiry"`
}

// ExpiredAt は指定時刻に絶対タイムアウトを過ぎているかを返す。
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.AbsoluteExpiry)
}
