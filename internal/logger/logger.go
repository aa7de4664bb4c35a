package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger writes tagged, coloured lines. Safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level

	debug *color.Color
	info  *color.Color
	warn  *color.Color
	err   *color.Color
	tag   *color.Color
}

func NewLogger() *Logger {
	return New(os.Stdout, LevelDebug)
}

// New builds a logger writing to out. Tests pass io.Discard.
func New(out io.Writer, level Level) *Logger {
	return &Logger{
		out:   out,
		level: level,
		debug: color.New(color.FgHiBlack),
		info:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
		tag:   color.New(color.FgCyan),
	}
}

func NewNop() *Logger {
	return New(io.Discard, LevelError+1)
}

func (l *Logger) write(level Level, c *color.Color, label, tag, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s %s %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		c.Sprintf("%-5s", label),
		l.tag.Sprintf("[%s]", tag),
		msg,
	)
}

func (l *Logger) Debug(tag, msg string) { l.write(LevelDebug, l.debug, "DEBUG", tag, msg) }
func (l *Logger) Info(tag, msg string)  { l.write(LevelInfo, l.info, "INFO", tag, msg) }
func (l *Logger) Warn(tag, msg string)  { l.write(LevelWarn, l.warn, "WARN", tag, msg) }
func (l *Logger) Error(tag, msg string) { l.write(LevelError, l.err, "ERROR", tag, msg) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(tag, msg string) {
	l.write(LevelError, l.err, "FATAL", tag, msg)
	os.Exit(1)
}

func (l *Logger) LogProcess(tag, msg string) {
	l.Info(tag, "⚙ "+msg)
}

func (l *Logger) LogDatabase(op, table, msg string) {
	l.Debug("DB", fmt.Sprintf("%s %s: %s", op, table, msg))
}

func (l *Logger) LogKafka(op, topic, msg string) {
	l.Debug("KAFKA", fmt.Sprintf("%s %s: %s", op, topic, msg))
}

func (l *Logger) LogPayment(action, id, msg string) {
	l.Info("PAYMENT", fmt.Sprintf("%s %s: %s", action, id, msg))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.Info("API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogSecurity(event, msg string) {
	l.Warn("SECURITY", fmt.Sprintf("%s: %s", event, msg))
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.out.(*os.File); ok {
		_ = f.Sync()
	}
}
