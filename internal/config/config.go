package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables

	"github.com/joho/godotenv" // godotenv loads an optional .env file into the process environment
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Secrets and identifiers are strings, durations and
// costs are ints expressed in the unit named by the field.
type Config struct {
	Env               string // application environment (e.g. "dev", "production")
	Port              string // HTTP port to listen on
	DBUser            string // database username
	DBPass            string // database password (optional)
	DBHost            string // database host address
	DBPort            string // database port number
	DBName            string // database name
	JWTSecret         string // secret used to sign access tokens
	RefreshSecret     string // secret used to sign refresh tokens
	AccessTTLMin      int    // access token time‑to‑live in minutes
	RefreshTTLDays    int    // refresh token time‑to‑live in days
	BcryptCost        int    // bcrypt cost for password hashing
	LogLevel          string // zap level: debug, info, warn, error
	LogDir            string // directory for the deck event log
	FailOnModuleError bool   // move a deck to "failed" when a module cannot be generated
	MigrateOnStart    bool   // apply the embedded schema at startup
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when present;
// variables already set in the environment win.  Required variables are
// enforced by must() and missing values cause the program to exit.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	return Config{
		Env:               envStr("APP_ENV", "dev"),
		Port:              envStr("APP_PORT", "3000"),
		DBUser:            must("DB_USER"),
		DBPass:            os.Getenv("DB_PASS"),
		DBHost:            must("DB_HOST"),
		DBPort:            envStr("DB_PORT", "3306"),
		DBName:            must("DB_NAME"),
		JWTSecret:         must("JWT_SECRET"),
		RefreshSecret:     must("REFRESH_TOKEN_SECRET"),
		AccessTTLMin:      envInt("ACCESS_TOKEN_TTL_MIN", 60),
		RefreshTTLDays:    envInt("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:        envInt("BCRYPT_COST", 10),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		LogDir:            envStr("LOG_DIR", "logs"),
		FailOnModuleError: envBool("DECK_FAIL_ON_MODULE_ERROR", false),
		MigrateOnStart:    envBool("DB_MIGRATE", false),
	}
}

// IsProduction reports whether the service runs with production settings
// (secure cookies, JSON logs).
func (c Config) IsProduction() bool { return c.Env == "production" || c.Env == "prod" }

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
