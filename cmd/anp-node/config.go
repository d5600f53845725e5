package main

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr             string `yaml:"listen_addr"`
	DID                    string `yaml:"did" validate:"required"`
	KeyPEMPath             string `yaml:"key_pem_path"`
	KeyExpiresSeconds      int    `yaml:"key_expires_seconds" validate:"gt=0"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds" validate:"gt=0"`
	LogLevel               string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	cfg := &Config{
		ListenAddr:             ":8793",
		KeyExpiresSeconds:      3600,
		CleanupIntervalSeconds: 60,
		LogLevel:               "info",
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("yaml")
	})
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
