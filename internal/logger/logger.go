package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Init configures the level ("debug", "info", ...) and format ("text" or "json")
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

// L returns the shared logger for components that want their own fields
func L() *logrus.Logger {
	return log
}

// Debug logs an action taken by or on behalf of actor.
// details is a free-form key=value string, e.g. "scenario_id=3 amount=100".
func Debug(actor, action, details string) {
	entry(actor, action, details).Debug(action)
}

// Info is Debug at info level
func Info(actor, action, details string) {
	entry(actor, action, details).Info(action)
}

// Warn is Debug at warn level
func Warn(actor, action, details string) {
	entry(actor, action, details).Warn(action)
}

// Error logs a failed action together with its error
func Error(actor, action string, err error) {
	entry(actor, action, "").WithError(err).Error(action)
}

func entry(actor, action, details string) *logrus.Entry {
	fields := logrus.Fields{"action": action}
	if actor != "" {
		fields["actor"] = actor
	}
	if details != "" {
		fields["details"] = details
	}
	return log.WithFields(fields)
}
