package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/metrics"
	"github.com/Mercy294/Mayondo/internal/store"
)

// AuthManager issues and validates access tokens and owns registration.
// Login accepts either a username or an email address as the identifier;
// failures are reported uniformly so the two cannot be told apart.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
}

func (a *AuthManager) Authenticate(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || strings.TrimSpace(req.Password) == "" {
		metrics.RecordLogin("rejected")
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}

	user, err := a.users.GetUserByUsername(ctx, strings.ToLower(identifier))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, err
		}
		user, err = a.users.GetUserByEmail(ctx, strings.ToLower(identifier))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				metrics.RecordLogin("rejected")
				return domain.LoginResponse{}, store.ErrInvalidCredentials
			}
			return domain.LoginResponse{}, err
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		metrics.RecordLogin("rejected")
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	metrics.RecordLogin("accepted")
	return domain.LoginResponse{
		AccessToken: token,
		Username:    user.Username,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register creates an account with a username derived from the person's
// name: lowercase first name plus last name, no separator.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if first == "" {
		return domain.User{}, &store.ValidationError{Field: "first_name"}
	}
	if last == "" {
		return domain.User{}, &store.ValidationError{Field: "last_name"}
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, &store.ValidationError{Field: "email", Reason: "valid email required"}
	}
	if len(req.Password1) < 6 {
		return domain.User{}, &store.ValidationError{Field: "password1", Reason: "must be at least 6 characters"}
	}
	if req.Password1 != req.Password2 {
		return domain.User{}, &store.ValidationError{Field: "password2", Reason: "passwords do not match"}
	}

	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleSalesAgent
	}
	if role != domain.RoleAdmin && role != domain.RoleManager && role != domain.RoleSalesAgent {
		return domain.User{}, &store.ValidationError{Field: "role", Reason: "unknown role"}
	}

	username := strings.ToLower(strings.ReplaceAll(first+last, " ", ""))
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password1), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	created, err := a.users.CreateUser(ctx, domain.User{
		Username:     username,
		FirstName:    first,
		LastName:     last,
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		PasswordHash: string(hash),
	})
	if err != nil {
		return domain.User{}, err
	}
	return *created, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Username: claims.Username, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user *domain.User, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "mayondo",
		},
		Username: user.Username,
		Role:     user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
