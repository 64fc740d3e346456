package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide sugared logger. Initialize must be called
// before any component logs through it.
var Logger *zap.SugaredLogger

func Initialize(debug bool) {
	config := zap.NewDevelopmentConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	config.DisableStacktrace = true
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	Logger = logger.Sugar()
}

func Release() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
