package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/store"
	"github.com/Mercy294/Mayondo/internal/store/memory"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.New()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	seedTestUser(t, repo, "systemadmin", "admin@mayondo.local", "admin123", domain.RoleAdmin)
	return auth, repo
}

func TestAuthenticate_EmailFallback(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	byUsername, err := auth.Authenticate(ctx, domain.LoginRequest{Identifier: "systemadmin", Password: "admin123"})
	if err != nil {
		t.Fatalf("username login: %v", err)
	}
	byEmail, err := auth.Authenticate(ctx, domain.LoginRequest{Identifier: "Admin@Mayondo.local", Password: "admin123"})
	if err != nil {
		t.Fatalf("email login: %v", err)
	}
	if byUsername.Username != "systemadmin" || byEmail.Username != "systemadmin" {
		t.Fatalf("expected both logins to resolve systemadmin, got %q and %q",
			byUsername.Username, byEmail.Username)
	}
	if byUsername.Role != domain.RoleAdmin {
		t.Fatalf("expected role %s, got %s", domain.RoleAdmin, byUsername.Role)
	}
}

func TestAuthenticate_UniformFailure(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	_, badPassword := auth.Authenticate(ctx, domain.LoginRequest{Identifier: "systemadmin", Password: "nope"})
	_, unknownUser := auth.Authenticate(ctx, domain.LoginRequest{Identifier: "ghost", Password: "nope"})

	if !errors.Is(badPassword, store.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for bad password, got %v", badPassword)
	}
	if !errors.Is(unknownUser, store.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", unknownUser)
	}
	if badPassword.Error() != unknownUser.Error() {
		t.Fatalf("failure reasons must not reveal which part was wrong: %q vs %q",
			badPassword.Error(), unknownUser.Error())
	}
}

func TestParseToken_RoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Authenticate(context.Background(), domain.LoginRequest{
		Identifier: "systemadmin",
		Password:   "admin123",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "systemadmin" || actor.Role != domain.RoleAdmin || actor.ID == "" {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestParseToken_RejectsForeignSignature(t *testing.T) {
	auth, repo := newTestAuth(t)
	other := NewAuthManager("a-different-secret", time.Hour, repo)

	resp, err := other.Authenticate(context.Background(), domain.LoginRequest{
		Identifier: "systemadmin",
		Password:   "admin123",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected rejection of token signed with another secret")
	}
	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected rejection of malformed token")
	}
}

func TestRegister_DerivesUsername(t *testing.T) {
	auth, _ := newTestAuth(t)

	user, err := auth.Register(context.Background(), domain.RegisterRequest{
		FirstName: "Sarah",
		LastName:  "Nabirye Mutesi",
		Email:     "sarah@mayondo.local",
		Password1: "secret123",
		Password2: "secret123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "sarahnabiryemutesi" {
		t.Fatalf("expected lowercased concatenated username, got %q", user.Username)
	}
	if user.Role != domain.RoleSalesAgent {
		t.Fatalf("expected default role %s, got %s", domain.RoleSalesAgent, user.Role)
	}
	if user.PasswordHash == "secret123" || user.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}
}

func TestRegister_Validation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	base := domain.RegisterRequest{
		FirstName: "Peter",
		LastName:  "Okot",
		Email:     "peter@mayondo.local",
		Password1: "secret123",
		Password2: "secret123",
	}

	mismatch := base
	mismatch.Password2 = "different"
	if _, err := auth.Register(ctx, mismatch); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for mismatched passwords, got %v", err)
	}

	short := base
	short.Password1, short.Password2 = "abc", "abc"
	if _, err := auth.Register(ctx, short); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}

	badEmail := base
	badEmail.Email = "not-an-email"
	if _, err := auth.Register(ctx, badEmail); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}

	badRole := base
	badRole.Role = "SUPERUSER"
	if _, err := auth.Register(ctx, badRole); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}

	if _, err := auth.Register(ctx, base); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := auth.Register(ctx, base); !errors.Is(err, store.ErrDuplicateUser) {
		t.Fatalf("expected duplicate user error, got %v", err)
	}
}
