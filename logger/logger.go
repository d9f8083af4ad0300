package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	InfoLogger  = logrus.New()
	WarnLogger  = logrus.New()
	ErrorLogger = logrus.New()
)

// InitLoggers points the three loggers at stdout plus a rotated file under LOG_DIR.
// Safe to skip in tests: the package-level loggers already write to stderr.
func InitLoggers() {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "logs"
	}

	InfoLogger = newLogger(logrus.InfoLevel, filepath.Join(dir, "info.log"))
	WarnLogger = newLogger(logrus.WarnLevel, filepath.Join(dir, "warn.log"))
	ErrorLogger = newLogger(logrus.ErrorLevel, filepath.Join(dir, "error.log"))
}

func newLogger(level logrus.Level, file string) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}))
	return l
}
