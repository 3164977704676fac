package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password, presentedSessionID string) (*model.User, string, error)
	LoginWithExternalProvider(ctx context.Context, idToken, presentedSessionID string) (*model.User, string, error)
	Logout(ctx context.Context, sessionID string) error
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cookies  middleware.CookieConfig
	validate *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies middleware.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		validate: newValidator(),
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// loginRequest は登録時の長さ規則を適用しない。
type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type googleLoginRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type authResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

// Register はメールアドレスとパスワードでユーザーを登録する。
// セッションは発行しない。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User registered successfully",
		User:    toUserResponse(user),
	})
}

// Login はパスワードを検証し、セッションCookieを発行する。
// 提示済みのセッションCookieは新しいセッションの発行前に破棄される。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, sessionID, err := h.service.Login(r.Context(), req.Email, req.Password, h.cookies.ReadSession(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookies.SetSession(w, sessionID)
	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		User:    toUserResponse(user),
	})
}

// Google はGoogleのIDトークンでログインし、セッションCookieを発行する。
// POST /auth/google
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if apiErr := decodeRequest(r, h.validate, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, sessionID, err := h.service.LoginWithExternalProvider(r.Context(), req.Token, h.cookies.ReadSession(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookies.SetSession(w, sessionID)
	writeJSON(w, http.StatusOK, authResponse{
		Message: "Google login successful",
		User:    toUserResponse(user),
	})
}

// Logout はセッションを破棄し、Cookieをクリアする。
// セッションが無効でも常に成功を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), h.cookies.ReadSession(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Me は現在のログインユーザー情報を返す。
// セッションミドルウェアの内側で使用する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	// セッション発行後にユーザーが消えていればUserNotFound(404)になる
	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]userResponse{"user": toUserResponse(user)})
}
