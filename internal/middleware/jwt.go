// Package middleware holds the Echo middleware shared by the routes:
// access-token authentication, Redis rate limiting and response caching, and
// request logging.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/deck-builder/internal/utils"
)

// JWTAuth validates the Bearer access token and stores its subject under
// UserIDKey.  A missing header is answered with 401; a token that fails
// verification (expired, bad signature, refresh token) with 403.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
			}
			uid, err := utils.ParseToken(secret, raw, utils.AccessKind)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, utils.ErrExpiredToken) {
					msg = "token expired"
				}
				return c.JSON(http.StatusForbidden, echo.Map{"message": msg})
			}
			c.Set(UserIDKey, uid)
			return next(c)
		}
	}
}
