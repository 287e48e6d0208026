package termlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging surface the term log core depends on. It is
// satisfied directly by *logrus.Entry.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewLogger returns a Logger backed by logrus, tagged with the given term
// log name and term so every line it emits is attributable.
func NewLogger(name string, term int64) Logger {
	return logrus.WithFields(logrus.Fields{
		"component": "termlog",
		"name":      name,
		"term":      term,
	})
}

// silentLogger discards everything; used when Options.Logger is unset in
// tests and short-lived recoveries.
func silentLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
