// Package config carga la configuración del servidor desde variables de entorno.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"collie-procedures-backend/pkg/domain"

	"github.com/caarlos0/env/v11"
)

// Backends del almacén de desafíos.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config es la configuración del servidor de trámites.
type Config struct {
	HTTPAddr        string        `env:"COLLIE_HTTP_ADDR"        envDefault:":8080"`
	LogLevel        string        `env:"COLLIE_LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"COLLIE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	TrustProxy      bool          `env:"COLLIE_TRUST_PROXY"      envDefault:"false"`

	JWTSecret string `env:"COLLIE_JWT_SECRET,unset"`
	JWTIssuer string `env:"COLLIE_JWT_ISSUER"`

	ProceduresTable   string `env:"PROCEDURES_TABLE_NAME"   envDefault:"Procedures"`
	ObservationsTable string `env:"OBSERVATIONS_TABLE_NAME" envDefault:"Observations"`
	DocumentsTable    string `env:"DOCUMENTS_TABLE_NAME"    envDefault:"Documents"`
	WorkersTable      string `env:"EMPLOYEES_TABLE_NAME"    envDefault:"Employees"`
	DocumentsBucket   string `env:"DOCUMENTS_BUCKET_NAME"   envDefault:"collie-documents"`

	ChallengeStore string `env:"COLLIE_CHALLENGE_STORE" envDefault:"redis"`
	RedisAddr      string `env:"REDIS_ADDR"             envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD,unset"`
	RedisDB        int    `env:"REDIS_DB"               envDefault:"0"`

	Signature SignatureConfig `envPrefix:"COLLIE_SIGNATURE_"`
}

// SignatureConfig agrupa los parámetros del código de verificación.
type SignatureConfig struct {
	CodeTTL      time.Duration `env:"CODE_TTL"       envDefault:"5m"`
	CodeLength   int           `env:"CODE_LENGTH"    envDefault:"6"`
	RequestEvery time.Duration `env:"REQUEST_EVERY"  envDefault:"30s"`
	RequestBurst int           `env:"REQUEST_BURST"  envDefault:"3"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS"   envDefault:"5"`
	Window       time.Duration `env:"ATTEMPT_WINDOW" envDefault:"15m"`
	Lockout      time.Duration `env:"LOCKOUT"        envDefault:"15m"`
	// RevealCodes escribe los códigos en el log; solo para desarrollo local.
	RevealCodes bool `env:"REVEAL_CODES" envDefault:"false"`
}

// Load lee y valida la configuración.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate revisa combinaciones inválidas.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("COLLIE_JWT_SECRET is required")
	}
	switch c.ChallengeStore {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("COLLIE_CHALLENGE_STORE must be %q or %q, got %q", BackendRedis, BackendMemory, c.ChallengeStore)
	}
	if c.Signature.CodeLength < 4 || c.Signature.CodeLength > 10 {
		return fmt.Errorf("COLLIE_SIGNATURE_CODE_LENGTH must be between 4 and 10")
	}
	if c.Signature.CodeTTL <= 0 {
		return fmt.Errorf("COLLIE_SIGNATURE_CODE_TTL must be positive")
	}
	if c.Signature.MaxAttempts <= 0 {
		return fmt.Errorf("COLLIE_SIGNATURE_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// LockoutPolicy devuelve la política de bloqueo configurada.
func (c SignatureConfig) LockoutPolicy() domain.LockoutPolicy {
	return domain.LockoutPolicy{MaxAttempts: c.MaxAttempts, Window: c.Window, Lockout: c.Lockout}
}

// SlogLevel traduce LogLevel; los valores desconocidos usan info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
