// Package config loads the wallet service's environment-variable
// configuration surface, following the same godotenv-then-viper layering
// as the teacher's walletserver/config and pkg/config packages.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one process.
type Config struct {
	Port string

	KeystorePath string

	DatabaseURL              string
	PostgresMigrationsDir    string

	AuthBuddyJWTSecret   string
	JWKSJSON             string
	JWKSPath             string
	JWKSURL              string
	JWKSRefreshInterval  time.Duration
	JWTIssuer            string
	JWTAudience          string
	AuthBuddyCallbackURL string

	FlowCortexL1URL string

	SigningBackend string // "ed25519" (default) or "secp256k1"

	WrappingKeyHex string
}

const (
	defaultJWKSRefreshSeconds = 60
	minJWKSRefreshSeconds     = 10
)

// Load reads an optional .env file, then resolves every recognized
// environment variable via viper's AutomaticEnv, applying the documented
// defaults for anything left unset.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("no .env file loaded; relying on process environment")
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	keys := []string{
		"WALLET_PORT",
		"KEYCORTEX_KEYSTORE_PATH",
		"DATABASE_URL",
		"KEYCORTEX_POSTGRES_MIGRATIONS_DIR",
		"AUTHBUDDY_JWT_SECRET",
		"AUTHBUDDY_JWKS_JSON",
		"AUTHBUDDY_JWKS_PATH",
		"AUTHBUDDY_JWKS_URL",
		"AUTHBUDDY_JWKS_REFRESH_SECONDS",
		"AUTHBUDDY_JWT_ISSUER",
		"AUTHBUDDY_JWT_AUDIENCE",
		"AUTHBUDDY_CALLBACK_URL",
		"FLOWCORTEX_L1_URL",
		"KEYCORTEX_SIGNING_BACKEND",
		"KEYCORTEX_WRAPPING_KEY",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("WALLET_PORT", "8081")
	v.SetDefault("KEYCORTEX_KEYSTORE_PATH", "./data/keycortex.db")
	v.SetDefault("AUTHBUDDY_JWKS_REFRESH_SECONDS", defaultJWKSRefreshSeconds)
	v.SetDefault("FLOWCORTEX_L1_URL", "http://localhost:3000")
	v.SetDefault("KEYCORTEX_SIGNING_BACKEND", "ed25519")

	refreshSeconds := v.GetInt("AUTHBUDDY_JWKS_REFRESH_SECONDS")
	if refreshSeconds < minJWKSRefreshSeconds {
		refreshSeconds = minJWKSRefreshSeconds
	}

	cfg := &Config{
		Port:                  v.GetString("WALLET_PORT"),
		KeystorePath:          v.GetString("KEYCORTEX_KEYSTORE_PATH"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		PostgresMigrationsDir: v.GetString("KEYCORTEX_POSTGRES_MIGRATIONS_DIR"),
		AuthBuddyJWTSecret:    v.GetString("AUTHBUDDY_JWT_SECRET"),
		JWKSJSON:              v.GetString("AUTHBUDDY_JWKS_JSON"),
		JWKSPath:              v.GetString("AUTHBUDDY_JWKS_PATH"),
		JWKSURL:               v.GetString("AUTHBUDDY_JWKS_URL"),
		JWKSRefreshInterval:   time.Duration(refreshSeconds) * time.Second,
		JWTIssuer:             v.GetString("AUTHBUDDY_JWT_ISSUER"),
		JWTAudience:           v.GetString("AUTHBUDDY_JWT_AUDIENCE"),
		AuthBuddyCallbackURL:  v.GetString("AUTHBUDDY_CALLBACK_URL"),
		FlowCortexL1URL:       v.GetString("FLOWCORTEX_L1_URL"),
		SigningBackend:        v.GetString("KEYCORTEX_SIGNING_BACKEND"),
		WrappingKeyHex:        v.GetString("KEYCORTEX_WRAPPING_KEY"),
	}

	return cfg, nil
}
