package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo.Context key under which JWTAuth stores the
// authenticated user's id as a uint64.
const UserIDKey = "user_id"

// UserID returns the authenticated user's id and whether one is present.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(UserIDKey).(uint64)
	return id, ok && id != 0
}

// userKey renders the user id for Redis keys; anonymous requests share "anon".
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
