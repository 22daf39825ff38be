package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// logrusLevel はlogrusのレベルに変換する
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel は文字列からログレベルを解析する
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Logger はlogrusをラップしたスレッドセーフなロガー
type Logger struct {
	entry *logrus.Logger
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(minLevel.logrusLevel())
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &Logger{entry: l}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.entry.SetLevel(level.logrusLevel())
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, workerID string, format string, args ...any) {
	lv := level.logrusLevel()
	if !l.entry.IsLevelEnabled(lv) {
		return
	}

	if workerID != "" {
		l.entry.WithField("worker", workerID).Logf(lv, format, args...)
		return
	}
	l.entry.Logf(lv, format, args...)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(workerID string, format string, args ...any) {
	l.log(LevelDebug, workerID, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(workerID string, format string, args ...any) {
	l.log(LevelInfo, workerID, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(workerID string, format string, args ...any) {
	l.log(LevelWarn, workerID, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(workerID string, format string, args ...any) {
	l.log(LevelError, workerID, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(workerID string, format string, args ...any) {
	Default.Debug(workerID, format, args...)
}

// Info は情報ログを出力する
func Info(workerID string, format string, args ...any) {
	Default.Info(workerID, format, args...)
}

// Warn は警告ログを出力する
func Warn(workerID string, format string, args ...any) {
	Default.Warn(workerID, format, args...)
}

// Error はエラーログを出力する
func Error(workerID string, format string, args ...any) {
	Default.Error(workerID, format, args...)
}
