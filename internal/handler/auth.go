package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/middleware"
	"github.com/iliyamo/deck-builder/internal/service"
)

// RefreshCookie is the name of the cookie carrying the refresh token.
const RefreshCookie = "refreshToken"

// Authenticator is the auth flow the handler drives.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (service.Session, error)
	Login(ctx context.Context, email, password string) (service.Session, error)
	Refresh(ctx context.Context, raw string) (service.Session, error)
	Logout(ctx context.Context, userID uint64) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth         Authenticator
	SecureCookie bool
	CookieMaxAge time.Duration
	Log          *zap.Logger
}

func NewAuthHandler(auth Authenticator, secureCookie bool, refreshTTL time.Duration, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Auth: auth, SecureCookie: secureCookie, CookieMaxAge: refreshTTL, Log: log}
}

// ----- DTOs -----

type credentialsReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
}

type authResp struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        userPart  `json:"user"`
}

// Register: create user, set refresh cookie, return access token.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.Register(ctx, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return h.respondSession(c, http.StatusCreated, sess)
}

// Login: verify credentials and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.Login(ctx, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return h.respondSession(c, http.StatusCreated, sess)
}

// RefreshToken rotates the refresh cookie and returns a new access token.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	ck, err := c.Cookie(RefreshCookie)
	if err != nil || ck.Value == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing refresh token"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.Refresh(ctx, ck.Value)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	c.SetCookie(h.refreshCookie(sess.Refresh.Raw, h.CookieMaxAge))
	return c.JSON(http.StatusOK, echo.Map{
		"accessToken": sess.Access.Token,
		"expiresAt":   sess.Access.Exp,
	})
}

// Logout clears the stored refresh token and the cookie (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthenticated"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Auth.Logout(ctx, uid); err != nil {
		return respondError(c, h.Log, err)
	}
	c.SetCookie(h.refreshCookie("", -1))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHandler) respondSession(c echo.Context, status int, sess service.Session) error {
	c.SetCookie(h.refreshCookie(sess.Refresh.Raw, h.CookieMaxAge))
	return c.JSON(status, authResp{
		AccessToken: sess.Access.Token,
		ExpiresAt:   sess.Access.Exp,
		User:        userPart{ID: sess.User.ID, Email: sess.User.Email},
	})
}

// refreshCookie builds the refresh cookie; a negative maxAge deletes it.
func (h *AuthHandler) refreshCookie(value string, maxAge time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     RefreshCookie,
		Value:    value,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge < 0 {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
	} else {
		ck.MaxAge = int(maxAge / time.Second)
	}
	return ck
}
