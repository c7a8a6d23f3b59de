package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Addr              string        `env:"STAKEHOUSE_API_ADDR" envDefault:":8080"`
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	IdentityURL       string        `env:"IDENTITY_URL,required,notEmpty"`
	IdentityAnonKey   string        `env:"IDENTITY_ANON_KEY,required,notEmpty"`
	VaultURL          string        `env:"VAULT_URL,required,notEmpty"`
	VaultSharedSecret string        `env:"VAULT_SHARED_SECRET,required,notEmpty"`
	MigrateOnStart    bool          `env:"STAKEHOUSE_MIGRATE_ON_START" envDefault:"true"`
	AuditEvery        time.Duration `env:"STAKEHOUSE_AUDIT_EVERY" envDefault:"5m"`
}

type CLIConfig struct {
	APIBaseURL string `env:"SKH_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	// Platform deploys hand out a bare PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.IdentityURL = strings.TrimRight(strings.TrimSpace(cfg.IdentityURL), "/")
	cfg.VaultURL = strings.TrimRight(strings.TrimSpace(cfg.VaultURL), "/")
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		return CLIConfig{APIBaseURL: "http://localhost:8080"}
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}
