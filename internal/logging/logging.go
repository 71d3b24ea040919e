package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger. "prod"/"production" selects JSON output,
// anything else the human-readable development encoder.
func New(env string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
