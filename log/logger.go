package log

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
)

type Level logging.Level

// The levels that can be passed to the SetLevel function.
const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

// The logger format
var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

// The internal leveled logger backend
var leveledBackend logging.LeveledBackend

// The currently active level; re-applied whenever the sink changes.
var activeLevel = logging.NOTICE

// The logger interface
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Notice(v ...interface{})
	Noticef(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Create a new named logger.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// Override the backend output sink.
func SetSink(sink io.Writer) {
	backend := logging.NewLogBackend(sink, "", 0)
	backendWithFormatter := logging.NewBackendFormatter(backend, format)
	leveledBackend = logging.AddModuleLevel(backendWithFormatter)
	leveledBackend.SetLevel(activeLevel, "")
	logging.SetBackend(leveledBackend)
}

// Set logger verbosity.
func SetLevel(level Level) {
	switch level {
	case Debug:
		activeLevel = logging.DEBUG
	case Info:
		activeLevel = logging.INFO
	case Notice:
		activeLevel = logging.NOTICE
	case Warning:
		activeLevel = logging.WARNING
	case Error:
		activeLevel = logging.ERROR
	}

	leveledBackend.SetLevel(activeLevel, "")
}

// Adapt a logger into a progress sink that accepts free-form diagnostic
// messages. Messages are logged at Info level with trailing newlines removed.
func ProgressSink(logger Logger) func(msg string) {
	return func(msg string) {
		logger.Info(strings.TrimRight(msg, "\n"))
	}
}

func init() {
	SetSink(os.Stdout)
	SetLevel(Notice)
}
