package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voxguard/guardian/internal/config"
	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/port/database"
)

// AuthService handles operator registration and JWT tokens.
type AuthService struct {
	store  database.Store
	cfg    *config.Auth
	secret []byte
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, cfg *config.Auth) *AuthService {
	return &AuthService{
		store:  store,
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
	}
}

// Register creates a new operator with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		ID:           generateID(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         req.Role,
		Enabled:      true,
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login authenticates an operator and returns an access token.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	u, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !u.Enabled {
		return nil, errors.New("account is disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	accessToken, err := s.signJWT(u)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	return &user.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int(s.cfg.AccessTokenExpiry.Seconds()),
		User:        *u,
	}, nil
}

// ValidateAccessToken verifies a JWT and returns the claims.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*user.TokenClaims, error) {
	return s.verifyJWT(tokenStr)
}

// GetUser returns an operator by ID.
func (s *AuthService) GetUser(ctx context.Context, id string) (*user.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// ListUsers returns all registered operators.
func (s *AuthService) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// AdminResetPassword sets a new password for the user with the given email.
func (s *AuthService) AdminResetPassword(ctx context.Context, email, newPassword string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdateUserPassword(ctx, u.ID, string(hash))
}

// SeedDefaultAdmin creates the initial admin user if it does not exist.
func (s *AuthService) SeedDefaultAdmin(ctx context.Context) error {
	_, err := s.store.GetUserByEmail(ctx, s.cfg.DefaultAdminEmail)
	if err == nil {
		return nil // already seeded
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	if _, err := s.Register(ctx, &user.CreateRequest{
		Email:    s.cfg.DefaultAdminEmail,
		Name:     "Admin",
		Password: s.cfg.DefaultAdminPass,
		Role:     user.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	slog.Info("seeded default admin user", "email", s.cfg.DefaultAdminEmail)
	return nil
}

// --- JWT implementation (HS256 with stdlib) ---

// jwtHeader is the fixed base64url-encoded header for HS256.
var jwtHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

func (s *AuthService) signJWT(u *user.User) (string, error) {
	now := time.Now()
	claims := user.TokenClaims{
		UserID:   u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(s.cfg.AccessTokenExpiry).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	payloadB64 := base64URLEncode(payload)
	signingInput := jwtHeader + "." + payloadB64

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	sig := base64URLEncode(mac.Sum(nil))

	return signingInput + "." + sig, nil
}

func (s *AuthService) verifyJWT(tokenStr string) (*user.TokenClaims, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	expectedSig := base64URLEncode(mac.Sum(nil))

	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return nil, errors.New("invalid signature")
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var claims user.TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if time.Now().Unix() > claims.Expiry {
		return nil, errors.New("token expired")
	}

	return &claims, nil
}

// --- Helpers ---

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(s string) ([]byte, error) {
	// Add padding back
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}

func generateID() string {
	return uuid.NewString()
}
