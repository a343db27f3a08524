// Package logger пишет логи асинхронно, чтобы не блокировать обработку событий чата.
// Записи уходят в log/slog с атрибутом svc; поддерживается логирование времени выполнения функций.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

type record struct {
	level slog.Level
	msg   string
}

var (
	prefix  atomic.Value
	level             = new(slog.LevelVar)
	out     io.Writer = os.Stdout
	ch      chan record
	once    sync.Once
	dropped atomic.Uint64
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initWorker() {
	if os.Getenv("LOG_LEVEL") != "" {
		level.Set(parseLevel(os.Getenv("LOG_LEVEL")))
	}
	ch = make(chan record, asyncBufferSize)
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	go func() {
		for r := range ch {
			l := slog.New(h)
			if p, _ := prefix.Load().(string); p != "" {
				l = l.With("svc", p)
			}
			l.Log(context.Background(), r.level, r.msg)
		}
	}()
}

func enqueue(lv slog.Level, msg string) {
	once.Do(initWorker)
	if lv < level.Level() {
		return
	}
	select {
	case ch <- record{level: lv, msg: msg}:
	default:
		// Буфер полон — не блокируем, теряем лог
		dropped.Add(1)
	}
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "relay").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переопределяет LOG_LEVEL (значение из конфигурации).
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// Dropped возвращает число потерянных из-за переполнения буфера записей.
func Dropped() uint64 {
	return dropped.Load()
}

func Debugf(format string, v ...any) {
	enqueue(slog.LevelDebug, fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(slog.LevelInfo, fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(slog.LevelInfo, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(slog.LevelWarn, fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(slog.LevelError, fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(slog.LevelError, fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms; на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if level.Level() <= slog.LevelDebug || elapsed >= 100*time.Millisecond {
		enqueue(slog.LevelInfo, fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
