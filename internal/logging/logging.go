// Package logging configures the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr, leaving stdout to the progress
// line and summary.
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

func NewWithOutput(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)

	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}
