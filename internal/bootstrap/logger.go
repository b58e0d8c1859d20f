package bootstrap

import (
	"dlob_engine/pkg/logging"
)

// InitLogger creates the process logger and installs it as the global logger
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel, logging.WithService(cfg.App.Name))
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
