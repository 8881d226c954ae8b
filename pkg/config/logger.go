package config

import "go.uber.org/zap"

// NewLogger builds the process logger based on the app environment.
func NewLogger(cfg AppConfig) (*zap.Logger, error) {
	if cfg.Env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
