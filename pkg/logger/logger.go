package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once

	serviceName = "arb_bot"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init поднимает глобальный логгер: консоль + json-файл.
func Init(logFile string) {
	once.Do(func() {
		global = newLogger(logFile)
	})
}

func get() *zap.Logger {
	if global == nil {
		Init("arb_bot.log")
	}
	return global
}

func Info(format string, args ...interface{}) {
	get().With(zap.String("service", serviceName)).Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	get().With(zap.String("service", serviceName)).Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	get().With(zap.String("service", serviceName)).Error(fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	get().With(zap.String("service", serviceName)).Debug(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	get().With(zap.String("service", serviceName)).Fatal(fmt.Sprintf(format, args...))
}

func newLogger(logFile string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel))
		}
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}
