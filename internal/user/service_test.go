package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/session"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	listFn       func(ctx context.Context) ([]model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) List(ctx context.Context) ([]model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []model.User{}, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}
func (m *mockUserRepo) LinkGoogleAccount(ctx context.Context, userID, googleID string, avatarURL *string) error {
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockSessionRevoker struct {
	deleteAllForUserFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRevoker) DeleteAllForUser(ctx context.Context, userID string) error {
	return m.deleteAllForUserFn(ctx, userID)
}

func existingUser() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
	}
}

// --- テスト ---

// TestService_List はリポジトリの結果をそのまま返すことを検証する。
func TestService_List(t *testing.T) {
	repo := &mockUserRepo{
		listFn: func(ctx context.Context) ([]model.User, error) {
			return []model.User{{ID: "u1"}, {ID: "u2"}}, nil
		},
	}
	users, err := NewService(repo, nil).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 || users[0].ID != "u1" {
		t.Errorf("users = %+v", users)
	}

	repo.listFn = func(ctx context.Context) ([]model.User, error) { return nil, errors.New("db down") }
	if _, err := NewService(repo, nil).List(context.Background()); err == nil {
		t.Error("expected error from repository")
	}
}

// TestService_Get は存在しないユーザーでUserNotFoundを返すことを検証する。
func TestService_Get(t *testing.T) {
	got, err := NewService(existingUser(), nil).Get(context.Background(), "user-1")
	if err != nil || got.ID != "user-1" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	_, err = NewService(&mockUserRepo{}, nil).Get(context.Background(), "ghost")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("Get() error = %v, want USER_NOT_FOUND", err)
	}
}

// TestService_Withdraw はセッション失効後にユーザーが削除されることを検証する。
func TestService_Withdraw(t *testing.T) {
	var calls []string

	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		calls = append(calls, "user:"+id)
		return nil
	}
	sessions := &mockSessionRevoker{
		deleteAllForUserFn: func(ctx context.Context, userID string) error {
			calls = append(calls, "sessions:"+userID)
			return nil
		},
	}

	svc := NewService(userRepo, sessions)
	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	want := []string{"sessions:user-1", "user:user-1"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーでUserNotFoundを返すことを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	sessions := &mockSessionRevoker{
		deleteAllForUserFn: func(ctx context.Context, userID string) error {
			t.Error("sessions should not be revoked for unknown user")
			return nil
		},
	}

	svc := NewService(&mockUserRepo{}, sessions)
	err := svc.Withdraw(context.Background(), "ghost")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("Withdraw() error = %v, want USER_NOT_FOUND", err)
	}
}

// TestService_Withdraw_SessionError はセッション削除失敗時にユーザーを削除しないことを検証する。
func TestService_Withdraw_SessionError(t *testing.T) {
	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		t.Error("user should not be deleted when session revocation fails")
		return nil
	}
	sessions := &mockSessionRevoker{
		deleteAllForUserFn: func(ctx context.Context, userID string) error {
			return session.ErrStoreUnavailable
		},
	}

	err := NewService(userRepo, sessions).Withdraw(context.Background(), "user-1")
	if !errors.Is(err, session.ErrStoreUnavailable) {
		t.Errorf("Withdraw() error = %v, want wrapped ErrStoreUnavailable", err)
	}
}

// TestService_Withdraw_UserDeleteError はユーザー削除失敗がラップされて返ることを検証する。
func TestService_Withdraw_UserDeleteError(t *testing.T) {
	dbErr := errors.New("connection reset")
	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error { return dbErr }
	sessions := &mockSessionRevoker{
		deleteAllForUserFn: func(ctx context.Context, userID string) error { return nil },
	}

	err := NewService(userRepo, sessions).Withdraw(context.Background(), "user-1")
	if !errors.Is(err, dbErr) {
		t.Errorf("Withdraw() error = %v, want wrapped %v", err, dbErr)
	}
}

// TestService_Withdraw_RevokesRedisSessions は実際のセッションストアで全セッションが失効することを検証する。
func TestService_Withdraw_RevokesRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sessions := session.NewManager(client, session.Config{IdleTTL: time.Hour, AbsoluteTTL: 24 * time.Hour})
	ctx := context.Background()

	first, err := sessions.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := sessions.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other, err := sessions.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := NewService(existingUser(), sessions).Withdraw(ctx, "user-1"); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	for _, id := range []string{first, second} {
		if s, _ := sessions.Get(ctx, id); s != nil {
			t.Errorf("session %s still valid after withdraw", id)
		}
	}
	if s, _ := sessions.Get(ctx, other); s == nil {
		t.Error("other user's session should survive")
	}
}
