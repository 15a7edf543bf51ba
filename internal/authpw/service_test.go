package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"warden/api/internal/store"
)

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// fakeUserStore keeps users in maps, mirroring just enough of the store for
// the credential flows.
type fakeUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string
	verifications map[string]store.User
	resets        map[string]passwordReset
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets:        make(map[string]passwordReset),
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := f.emailIndex[email]; ok {
		return f.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.ID] = user
	f.emailIndex[user.Email] = user.ID
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := f.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		f.users[userID] = user
		f.verifications[token] = user
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := f.verifications[token]; ok {
		user.IsEmailVerified = true
		f.users[user.ID] = user
		f.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := f.users[userID]; ok {
		user.PasswordHash = passwordHash
		f.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := f.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := f.resets[token]; ok {
		reset.used = true
		f.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore()
	svc := NewService(fs, "test-secret")

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "dana@warden.dev",
			Password:    "correct-horse-battery",
			DisplayName: "Dana Director",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.UserID == "" {
			t.Error("expected UserID to be set")
		}
		if resp.VerificationToken == "" {
			t.Error("expected VerificationToken to be set")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify to be true")
		}

		user, _ := fs.GetUserByID(ctx, resp.UserID)
		if user.Role != "builder" {
			t.Errorf("new user role = %q, want the builder default", user.Role)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "dana@warden.dev",
			Password:    "correct-horse-battery",
			DisplayName: "Second Dana",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "blair@warden.dev",
			Password:    "short",
			DisplayName: "Blair Builder",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore()
	svc := NewService(fs, "test-secret")

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "dana@warden.dev",
		Password:    "correct-horse-battery",
		DisplayName: "Dana Director",
	})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	t.Run("successful sign in", func(t *testing.T) {
		signInResp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "dana@warden.dev",
			Password: "correct-horse-battery",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signInResp.User.Email != "dana@warden.dev" {
			t.Errorf("email = %s, want dana@warden.dev", signInResp.User.Email)
		}
		if signInResp.User.Role != "builder" {
			t.Errorf("role = %q, want builder", signInResp.User.Role)
		}
		if signInResp.RequiresVerify {
			t.Error("expected RequiresVerify to be false for a verified user")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "dana@warden.dev",
			Password: "wrong-password",
		})
		if err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nobody@warden.dev",
			Password: "correct-horse-battery",
		})
		if err == nil {
			t.Error("expected error for non-existent user")
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		_, _ = svc.SignUp(ctx, SignUpRequest{
			Email:       "blair@warden.dev",
			Password:    "correct-horse-battery",
			DisplayName: "Blair Builder",
		})

		signInResp, err := svc.SignIn(ctx, SignInRequest{
			Email:    "blair@warden.dev",
			Password: "correct-horse-battery",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !signInResp.RequiresVerify {
			t.Error("expected RequiresVerify to be true for an unverified user")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore()
	svc := NewService(fs, "test-secret")

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "dana@warden.dev",
		Password:    "correct-horse-battery",
		DisplayName: "Dana Director",
	})

	t.Run("valid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		user, _ := fs.GetUserByID(ctx, resp.UserID)
		if !user.IsEmailVerified {
			t.Error("expected user to be verified")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, "invalid-token"); err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore()
	svc := NewService(fs, "test-secret")

	resp, _ := svc.SignUp(ctx, SignUpRequest{
		Email:       "dana@warden.dev",
		Password:    "correct-horse-battery",
		DisplayName: "Dana Director",
	})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	t.Run("request reset for existing user", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "dana@warden.dev")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
	})

	t.Run("request reset for unknown email stays silent", func(t *testing.T) {
		if _, err := svc.RequestPasswordReset(ctx, "nobody@warden.dev"); err != nil {
			t.Errorf("expected no error for an unknown email, got: %v", err)
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		token, _ := svc.RequestPasswordReset(ctx, "dana@warden.dev")

		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       token,
			NewPassword: "entirely-new-secret",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "dana@warden.dev",
			Password: "correct-horse-battery",
		}); err == nil {
			t.Error("expected the old password to stop working")
		}

		if _, err := svc.SignIn(ctx, SignInRequest{
			Email:    "dana@warden.dev",
			Password: "entirely-new-secret",
		}); err != nil {
			t.Errorf("expected the new password to work: %v", err)
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "invalid-token",
			NewPassword: "entirely-new-secret",
		})
		if err == nil {
			t.Error("expected error for invalid token")
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "some-token",
			NewPassword: "short",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})
}
