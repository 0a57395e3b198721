// Package router registers the HTTP routes and the middleware applied to them.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/deck-builder/internal/handler"
	"github.com/iliyamo/deck-builder/internal/middleware"
)

// Limiters holds the rate limiting middleware for the two route classes.
// Auth covers the credential endpoints and syllabus creation, which calls the
// assistant synchronously; Default covers everything else under /decks.
type Limiters struct {
	Auth    echo.MiddlewareFunc
	Default echo.MiddlewareFunc
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func (l Limiters) auth() echo.MiddlewareFunc {
	if l.Auth == nil {
		return passThrough
	}
	return l.Auth
}

func (l Limiters) def() echo.MiddlewareFunc {
	if l.Default == nil {
		return passThrough
	}
	return l.Default
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers /auth.  Logout needs an access token; refresh reads
// the refresh cookie instead.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, l Limiters) {
	g := e.Group("/auth", l.auth())
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh-token", a.RefreshToken)
	g.POST("/logout", a.Logout, middleware.JWTAuth(jwtSecret))
}

// RegisterDecks registers /decks.  JWTAuth runs before the limiter so buckets
// can be keyed by user, and before the cache so entries are per user.
func RegisterDecks(e *echo.Echo, d *handler.DeckHandler, jwtSecret string, l Limiters, cache echo.MiddlewareFunc) {
	if cache == nil {
		cache = passThrough
	}
	g := e.Group("/decks", middleware.JWTAuth(jwtSecret))
	g.POST("/syllabus", d.CreateSyllabus, l.auth())
	g.PUT("/:deckId/create", d.StartGeneration, l.def())
	g.PUT("/:deckId/resume", d.ResumeGeneration, l.def())
	g.GET("/:deckId/progress", d.Progress, l.def())
	g.GET("", d.List, l.def())
	g.GET("/:deckId", d.Get, l.def(), cache)
}
