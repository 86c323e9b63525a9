package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFilePath returns the path to the backend log file.
func LogFilePath(cfg *Config) string {
	if cfg != nil && strings.TrimSpace(cfg.LogFile) != "" {
		return cfg.LogFile
	}
	return filepath.Join("logs", "kyc-document-api.log")
}

// NewLogger builds the application logger. Output goes to stdout and, when the log
// file can be opened, to LogFilePath as well. The returned func flushes and closes.
func NewLogger(cfg *Config) (*zap.Logger, func(), error) {
	var zcfg zap.Config
	if cfg != nil && cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg != nil && cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	outputs := []string{"stdout"}
	path := LogFilePath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Printf("Warning: Failed to create logs directory: %v", err)
	} else if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
		log.Printf("Warning: Failed to open log file: %v", err)
	} else {
		_ = f.Close()
		outputs = append(outputs, path)
	}
	zcfg.OutputPaths = outputs

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	undo := zap.RedirectStdLog(logger)

	return logger, func() {
		undo()
		_ = logger.Sync()
	}, nil
}
