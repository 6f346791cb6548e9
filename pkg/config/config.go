// Package config loads server configuration from the environment and the
// deployment profile from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string // empty = in-memory state; "postgres://..." or a sqlite file path
	RedisAddr    string // empty = in-process rate limiting fallback
	ProfilePath  string
	Deployment   string // names this engine instance; feeds salt derivation
	MasterSecret string // operator master secret for salt derivation
	JWTSecret    string
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	profilePath := os.Getenv("VERIS_PROFILE")
	if profilePath == "" {
		profilePath = "profile.yaml"
	}

	deployment := os.Getenv("VERIS_DEPLOYMENT")
	if deployment == "" {
		deployment = "veris-dev"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		ProfilePath:  profilePath,
		Deployment:   deployment,
		MasterSecret: os.Getenv("VERIS_MASTER_SECRET"),
		JWTSecret:    os.Getenv("VERIS_JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}
}
