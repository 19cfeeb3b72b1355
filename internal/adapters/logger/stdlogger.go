package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"

	"orbBot/internal/ports"
)

// StdLogger writes one line per event for the bot, the backtest runner and
// the data tools:
//
//	2024/03/01 09:47:00.000123 [INFO] Breakout confirmed | price=102 symbol=AAPL
//
// Lines below the configured level are dropped.
type StdLogger struct {
	logger *log.Logger
	level  LogLevel
}

var _ ports.Logger = (*StdLogger)(nil)

// LogLevel is the minimum severity a StdLogger writes, set from LOG_LEVEL.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a LOG_LEVEL value to a level. Case and surrounding blanks
// are ignored; anything unrecognized falls back to LevelInfo.
func ParseLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return LevelWarn
	}
	if i := slices.Index(levelNames[:], name); i >= 0 {
		return LogLevel(i)
	}
	return LevelInfo
}

// NewStdLogger returns a logger on stderr, where the CLIs keep their output
// separate from reports written to stdout.
func NewStdLogger(level LogLevel) *StdLogger {
	return NewWriterLogger(os.Stderr, level)
}

// NewWriterLogger returns a logger on w. Concurrent symbol tasks may share
// it; each line is a single write.
func NewWriterLogger(w io.Writer, level LogLevel) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

func (l *StdLogger) log(level LogLevel, msg string, err error, fields []ports.Fields) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, msg)
	if err != nil {
		fmt.Fprintf(&sb, " | error: %v", err)
	}

	// Later maps win on duplicate keys.
	merged := make(ports.Fields)
	for _, f := range fields {
		maps.Copy(merged, f)
	}
	if len(merged) > 0 {
		sb.WriteString(" |")
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, merged[k])
		}
	}

	l.logger.Println(sb.String())
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(LevelDebug, msg, nil, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(LevelInfo, msg, nil, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	l.log(LevelWarn, msg, nil, fields)
}

// Error writes msg with err appended after the message.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	l.log(LevelError, msg, err, fields)
}
