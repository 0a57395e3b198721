package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/model"
	"github.com/iliyamo/deck-builder/internal/repository"
	"github.com/iliyamo/deck-builder/internal/utils"
)

// UserStore is the credential store used by AuthService.
type UserStore interface {
	Create(ctx context.Context, email, password string, cost int) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetRefreshHash(ctx context.Context, id uint64, hash *string) error
	SwapRefreshHash(ctx context.Context, id uint64, old, hash string) error
}

// TokenConfig carries the secrets and lifetimes of issued tokens.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	User    model.User
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// AuthService implements registration, login and refresh-token rotation.
// Each user has at most one live refresh token; issuing a new one replaces
// the stored hash.
type AuthService struct {
	users UserStore
	cfg   TokenConfig
	log   *zap.Logger
}

func NewAuthService(users UserStore, cfg TokenConfig, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{users: users, cfg: cfg, log: log}
}

// Register creates the user and signs them in.
func (s *AuthService) Register(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("email and password are required: %w", ErrValidation)
	}
	u, err := s.users.Create(ctx, email, password, s.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return Session{}, fmt.Errorf("email already registered: %w", ErrConflict)
		}
		return Session{}, storeError("create user", err)
	}
	s.log.Info("user registered", zap.Uint64("user_id", u.ID))
	return s.issue(ctx, u)
}

// Login checks the password and issues a fresh token pair.  Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, fmt.Errorf("invalid credentials: %w", ErrUnauthenticated)
		}
		return Session{}, storeError("find user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return Session{}, fmt.Errorf("invalid credentials: %w", ErrUnauthenticated)
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a live refresh token for a new pair.  The presented token
// must verify and match the stored hash; a superseded token is rejected even
// when it has not expired yet.
func (s *AuthService) Refresh(ctx context.Context, raw string) (Session, error) {
	if raw == "" {
		return Session{}, fmt.Errorf("missing refresh token: %w", ErrUnauthenticated)
	}
	uid, err := utils.ParseToken(s.cfg.RefreshSecret, raw, utils.RefreshKind)
	if err != nil {
		return Session{}, fmt.Errorf("refresh token: %w: %w", ErrForbidden, err)
	}
	u, err := s.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, fmt.Errorf("refresh token owner gone: %w", ErrForbidden)
		}
		return Session{}, storeError("find user", err)
	}
	if u.RefreshTokenHash == nil ||
		subtle.ConstantTimeCompare([]byte(*u.RefreshTokenHash), []byte(utils.HashRefreshRaw(raw))) != 1 {
		return Session{}, fmt.Errorf("refresh token superseded: %w", ErrForbidden)
	}
	return s.rotate(ctx, u, *u.RefreshTokenHash)
}

// Logout clears the stored refresh hash so no refresh token works anymore.
func (s *AuthService) Logout(ctx context.Context, userID uint64) error {
	if err := s.users.SetRefreshHash(ctx, userID, nil); err != nil {
		return storeError("clear refresh token", err)
	}
	return nil
}

// issue signs a new pair and replaces whatever refresh hash is stored.
func (s *AuthService) issue(ctx context.Context, u model.User) (Session, error) {
	sess, hash, err := s.sign(u)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.SetRefreshHash(ctx, u.ID, &hash); err != nil {
		return Session{}, storeError("store refresh token", err)
	}
	return sess, nil
}

// rotate signs a new pair only if old is still the stored hash, so one
// refresh token is exchanged at most once.
func (s *AuthService) rotate(ctx context.Context, u model.User, old string) (Session, error) {
	sess, hash, err := s.sign(u)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.SwapRefreshHash(ctx, u.ID, old, hash); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return Session{}, fmt.Errorf("refresh token superseded: %w", ErrForbidden)
		}
		return Session{}, storeError("rotate refresh token", err)
	}
	return sess, nil
}

func (s *AuthService) sign(u model.User) (Session, string, error) {
	access, err := utils.NewAccessToken(s.cfg.AccessSecret, u.ID, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshSecret, u.ID, s.cfg.RefreshTTL)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign refresh token: %w", err)
	}
	hash := utils.HashRefreshRaw(refresh.Raw)
	u.RefreshTokenHash = &hash
	return Session{User: u, Access: access, Refresh: refresh}, hash, nil
}
