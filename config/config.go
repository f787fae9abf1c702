package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Vault      VaultConfig
	Payment    PaymentConfig
	Cloudinary CloudinaryConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	Issuer       string
	AccessExpiry time.Duration
}

// VaultConfig holds the master secret the credential encryption key is derived from.
type VaultConfig struct {
	MasterSecret string
	KDFSalt      string
}

type PaymentConfig struct {
	// BaseURL is the public base of this service; success/cancel/webhook
	// URLs handed to providers are built from it.
	BaseURL         string
	PendingExpiry   time.Duration
	SweepInterval   time.Duration
	ProviderTimeout time.Duration
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8080"),
			Env:          env("APP_ENV", "development"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             env("DATABASE_DSN", "schoolpay:schoolpay@tcp(localhost:3306)/schoolpay?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_ACCESS_SECRET", "change-me-in-production"),
			Issuer:       env("JWT_ISSUER", "schoolpay"),
			AccessExpiry: envDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
		},
		Vault: VaultConfig{
			MasterSecret: env("VAULT_MASTER_SECRET", "change-me-in-production"),
			KDFSalt:      env("VAULT_KDF_SALT", "schoolpay-credential-vault"),
		},
		Payment: PaymentConfig{
			BaseURL:         env("PAYMENT_BASE_URL", "http://localhost:8080"),
			PendingExpiry:   envDuration("PAYMENT_PENDING_EXPIRY", 30*time.Minute),
			SweepInterval:   envDuration("PAYMENT_SWEEP_INTERVAL", 5*time.Minute),
			ProviderTimeout: envDuration("PAYMENT_PROVIDER_TIMEOUT", 30*time.Second),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: env("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    env("CLOUDINARY_API_KEY", ""),
			APISecret: env("CLOUDINARY_API_SECRET", ""),
		},
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
