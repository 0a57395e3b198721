package model

import "time"

// User represents an application user record as stored in the
// `users` table.  The json tags are omitted because handlers expose
// users through their own response types.
//
// Fields:
//
//	ID               – primary key identifier of the user.
//	Email            – unique, lower-cased email address.
//	PasswordHash     – bcrypt hashed password.
//	RefreshTokenHash – SHA‑256 hex digest of the single live refresh token, nil after logout.
//	CreatedAt        – timestamp of creation.
//	UpdatedAt        – timestamp of last update.
type User struct {
	ID               uint64    // users.id
	Email            string    // users.email
	PasswordHash     string    // users.password_hash
	RefreshTokenHash *string   // users.refresh_token_hash (nullable)
	CreatedAt        time.Time // users.created_at
	UpdatedAt        time.Time // users.updated_at
}
