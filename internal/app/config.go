package app

import (
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
)

type Config struct {
	Port           string
	GinMode        string
	ServiceName    string
	Environment    string
	Version        string
	AllowedOrigins []string
	WorkersEnabled bool
}

func LoadConfig() Config {
	return Config{
		Port:           envutil.Str("PORT", "8080"),
		GinMode:        envutil.Str("GIN_MODE", "debug"),
		ServiceName:    envutil.Str("SERVICE_NAME", "evermind"),
		Environment:    envutil.Str("ENVIRONMENT", "development"),
		Version:        envutil.Str("SERVICE_VERSION", "dev"),
		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS"),
		WorkersEnabled: envutil.Bool("WORKERS_ENABLED", true),
	}
}
