// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, task, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateEmail        = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeExternalLoginFailed   = "EXTERNAL_LOGIN_FAILED"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeProjectNotFound       = "PROJECT_NOT_FOUND"
	ErrCodeTaskNotFound          = "TASK_NOT_FOUND"
	ErrCodeMemberNotFound        = "MEMBER_NOT_FOUND"
	ErrCodeMemberAlreadyExists   = "MEMBER_ALREADY_EXISTS"
	ErrCodeOwnerMembershipLocked = "OWNER_MEMBERSHIP_LOCKED"
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メール未登録・パスワード未設定・不一致のいずれでも同一のエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewExternalLoginFailedError は外部IdPログイン失敗エラーを生成する。
// 原因はログにのみ記録し、クライアントには返さない。
func NewExternalLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExternalLoginFailed,
		Message:  "Googleログインに失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "プロジェクトのオーナーまたはリードに依頼してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewMemberNotFoundError はメンバー未検出エラーを生成する。
func NewMemberNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定されたメンバーが見つかりません: %s", userID),
		Category: "project",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewMemberAlreadyExistsError は既にメンバーであるユーザーを招待した場合のエラーを生成する。
func NewMemberAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeMemberAlreadyExists,
		Message:  "このユーザーは既にプロジェクトのメンバーです。",
		Category: "project",
		Action:   "メンバー一覧から該当ユーザーのロールを変更してください。",
	}
}

// NewOwnerMembershipLockedError はオーナー自身のメンバーシップを変更・削除しようとした場合のエラーを生成する。
func NewOwnerMembershipLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnerMembershipLocked,
		Message:  "プロジェクトオーナーのメンバーシップは変更できません。",
		Category: "project",
		Action:   "他のメンバーを選択してください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が不正です: %s", detail),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
