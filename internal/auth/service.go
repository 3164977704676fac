// Package auth はパスワード認証、Google IDトークンによる外部ログイン、セッション発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// dummyPassword はユーザーが存在しない場合の検証に使う固定パスワード。
const dummyPassword = "taskman-timing-equalizer"

// PasswordHasher はパスワードハッシュの生成・検証のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// IDTokenVerifier は外部IdPのIDトークンを検証するインターフェース。
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*ExternalIdentity, error)
}

// SessionIssuer はセッションの発行・破棄のインターフェース。
type SessionIssuer interface {
	Create(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
}

// URLValidator は外部から受け取ったURLを検証するインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Option はServiceのオプション設定。
type Option func(*Service)

// WithURLValidator はアバターURLの検証器を設定する。
func WithURLValidator(v URLValidator) Option {
	return func(s *Service) { s.urlValidator = v }
}

// WithMetrics はメトリクス収集器を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock はテスト用に時刻取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	sessions     SessionIssuer
	hasher       PasswordHasher
	verifier     IDTokenVerifier
	urlValidator URLValidator
	metrics      metrics.MetricsCollector
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
// verifierがnilの場合、外部ログインは常に失敗する。
func NewService(
	userRepo repository.UserRepository,
	sessions SessionIssuer,
	hasher PasswordHasher,
	verifier IDTokenVerifier,
	opts ...Option,
) *Service {
	s := &Service{
		userRepo: userRepo,
		sessions: sessions,
		hasher:   hasher,
		verifier: verifier,
		metrics:  metrics.Noop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register はメールアドレスとパスワードでユーザーを登録する。
// メールアドレスが既に使われている場合はDuplicateEmailエラーを返す。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hash,
		Role:         model.UserRoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はパスワードを検証し、新しいセッションを発行する。
// presentedSessionIDが指定されている場合は、新しいセッションの発行前に破棄する。
// 未登録、パスワード未設定、不一致のいずれも同一のInvalidCredentialsエラーを返す。
func (s *Service) Login(ctx context.Context, email, password, presentedSessionID string) (*model.User, string, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil || !user.HasPassword() {
		// 応答時間からアカウントの有無を推測されないよう、同じコストの検証を行う
		s.verifyDummy(password)
		s.metrics.RecordLogin(metrics.LoginMethodPassword, metrics.LoginResultFailure)
		return nil, "", model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		slog.Warn("stored password hash is malformed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	if !ok {
		s.metrics.RecordLogin(metrics.LoginMethodPassword, metrics.LoginResultFailure)
		return nil, "", model.NewInvalidCredentialsError()
	}

	sessionID, err := s.issueSession(ctx, user.ID, presentedSessionID)
	if err != nil {
		return nil, "", err
	}

	s.metrics.RecordLogin(metrics.LoginMethodPassword, metrics.LoginResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", metrics.LoginMethodPassword))
	return user, sessionID, nil
}

// LoginWithExternalProvider はGoogleのIDトークンでログインする。
// 未登録のメールアドレスならユーザーを作成し、未連携の既存ユーザーならGoogleアカウントを紐付ける。
// 検証からユーザー作成までの失敗はすべてExternalLoginFailedエラーにまとめ、原因はログにのみ残す。
func (s *Service) LoginWithExternalProvider(ctx context.Context, idToken, presentedSessionID string) (*model.User, string, error) {
	user, err := s.resolveExternalUser(ctx, idToken)
	if err != nil {
		slog.Warn("external login failed", slog.String("error", err.Error()))
		s.metrics.RecordLogin(metrics.LoginMethodGoogle, metrics.LoginResultFailure)
		return nil, "", model.NewExternalLoginFailedError()
	}

	sessionID, err := s.issueSession(ctx, user.ID, presentedSessionID)
	if err != nil {
		return nil, "", err
	}

	s.metrics.RecordLogin(metrics.LoginMethodGoogle, metrics.LoginResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", metrics.LoginMethodGoogle))
	return user, sessionID, nil
}

// resolveExternalUser はIDトークンを検証し、対応するローカルユーザーを作成・紐付け・取得する。
func (s *Service) resolveExternalUser(ctx context.Context, idToken string) (*model.User, error) {
	if s.verifier == nil {
		return nil, errors.New("external login is not configured")
	}

	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}
	if identity.Email == "" {
		return nil, errors.New("id token has no email")
	}
	if !identity.EmailVerified {
		return nil, fmt.Errorf("email of subject %s is not verified", identity.Subject)
	}

	avatar := s.safeAvatarURL(identity.Picture)

	user, err := s.userRepo.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	switch {
	case user == nil:
		now := s.now()
		subject := identity.Subject
		user = &model.User{
			ID:        uuid.New().String(),
			Email:     identity.Email,
			GoogleID:  &subject,
			AvatarURL: avatar,
			Role:      model.UserRoleMember,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("user created from google account", slog.String("user_id", user.ID))

	case user.GoogleID == nil:
		if avatar == nil {
			avatar = user.AvatarURL
		}
		if err := s.userRepo.LinkGoogleAccount(ctx, user.ID, identity.Subject, avatar); err != nil {
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		subject := identity.Subject
		user.GoogleID = &subject
		user.AvatarURL = avatar
		slog.Info("google account linked", slog.String("user_id", user.ID))

	case *user.GoogleID != identity.Subject:
		return nil, fmt.Errorf("user %s is linked to another google account", user.ID)
	}

	return user, nil
}

// safeAvatarURL はSSRFガードの検証を通過したアバターURLのみを返す。
func (s *Service) safeAvatarURL(raw string) *string {
	if raw == "" {
		return nil
	}
	if s.urlValidator != nil {
		if err := s.urlValidator.ValidateURL(raw); err != nil {
			slog.Warn("avatar url rejected", slog.String("error", err.Error()))
			return nil
		}
	}
	return &raw
}

// issueSession は提示されたセッションを破棄してから新しいセッションを発行する。
func (s *Service) issueSession(ctx context.Context, userID, presentedSessionID string) (string, error) {
	if presentedSessionID != "" {
		if err := s.sessions.Delete(ctx, presentedSessionID); err != nil {
			slog.Warn("failed to delete presented session",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	sessionID, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	s.metrics.RecordSessionCreated()
	return sessionID, nil
}

// verifyDummy はダミーのハッシュに対してパスワード検証を行う。
func (s *Service) verifyDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

// Logout はセッションを破棄する。
// セッションが既に存在しない場合やストア障害時もエラーを返さない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		slog.Warn("failed to delete session on logout", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("user logged out")
	return nil
}

// GetProfile はユーザー情報を取得する。
// セッション発行後にユーザーが削除されていた場合はUserNotFoundエラーを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
