package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

// newLogger builds a tee'd zap logger matching the teacher's
// cmd/llm-proxy/main.go newLogger: JSON-encoded, rotated file sink plus a
// human-readable console sink split across stdout (below warn) and stderr
// (warn and above).
func newLogger(level, logDir string) (*zap.Logger, error) {
	zapLevel := parseZapLevel(level)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "gatewayd.log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(lj), zapLevel)

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	stdoutCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapLevel && l < zapcore.WarnLevel
	}))
	stderrCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapLevel && l >= zapcore.WarnLevel
	}))

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)), nil
}

func parseZapLevel(level string) zapcore.Level {
	switch level {
	case "debug", "DEBUG":
		return zap.DebugLevel
	case "warn", "WARN":
		return zap.WarnLevel
	case "error", "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func parseBusLevel(level string) eventbus.Level {
	switch level {
	case "debug", "DEBUG":
		return eventbus.Debug
	case "warn", "WARN":
		return eventbus.Warn
	case "error", "ERROR":
		return eventbus.Error
	default:
		return eventbus.Info
	}
}

func getLogDir() string {
	if dir := os.Getenv("GATEWAYD_LOGS_DIR"); dir != "" {
		return dir
	}
	return "logs"
}
