// Package logging 封装全局 zerolog 日志。
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("portal", name).Msg("published")
//	log := logging.Component("gateway")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config 为日志输出配置。
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init 按配置重建全局 logger。
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	mu.Lock()
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// Logger 返回当前全局 logger。
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component 返回带 component 字段的子 logger。
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// Debug 以全局 logger 开始一条 debug 日志。
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info 以全局 logger 开始一条 info 日志。
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn 以全局 logger 开始一条 warn 日志。
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error 以全局 logger 开始一条 error 日志。
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal 记录后退出进程。
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
