package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
)

// logBackend пишет журнал в консоль и, если задан файл, в ротируемый файл
type logBackend struct {
	stdOut     io.Writer
	logRotator *rotator.Rotator
}

func (b *logBackend) Write(p []byte) (int, error) {
	if b.stdOut != nil {
		b.stdOut.Write(p)
	}
	if b.logRotator != nil {
		b.logRotator.Write(p)
	}
	return len(p), nil
}

// Options настройки логгера
type Options struct {
	Debug     bool
	LogFile   string // Путь к файлу журнала, пусто для вывода только в консоль
	MaxRolls  int    // Количество хранимых старых файлов
	Component string // Имя компонента в каждой записи
}

// Logger логгер на основе logrus с printf-интерфейсом
type Logger struct {
	entry   *logrus.Entry
	backend *logBackend
}

// New создает логгер по настройкам
func New(opts Options) (*Logger, error) {
	backend := &logBackend{stdOut: os.Stderr}
	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0700); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию журнала: %w", err)
		}
		maxRolls := opts.MaxRolls
		if maxRolls <= 0 {
			maxRolls = 10
		}
		r, err := rotator.New(opts.LogFile, 1024, false, maxRolls)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать ротатор журнала: %w", err)
		}
		backend.logRotator = r
	}
	return newLogger(backend, opts.Debug, opts.Component, backend), nil
}

// NewWithWriter создает логгер, пишущий в w
func NewWithWriter(w io.Writer, debug bool) *Logger {
	return newLogger(w, debug, "", nil)
}

func newLogger(w io.Writer, debug bool, component string, backend *logBackend) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry, backend: backend}
}

// Discard логгер без вывода, удобен в тестах
func Discard() *Logger {
	return newLogger(io.Discard, false, "", nil)
}

// With возвращает логгер с другим именем компонента
func (l *Logger) With(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component), backend: l.backend}
}

// Info логирует информационное сообщение
func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

// Error логирует сообщение об ошибке
func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

// Debug логирует отладочное сообщение
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

// Close закрывает файл журнала
func (l *Logger) Close() error {
	if l.backend != nil && l.backend.logRotator != nil {
		return l.backend.logRotator.Close()
	}
	return nil
}
