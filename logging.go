package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const requestIdKey ctxKey = "requestId"

func setupLogging(cfg *Config) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.WithField("level", cfg.Log.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func newLogger(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// logFor attaches the request id carried by ctx, if any.
func logFor(ctx context.Context, log *logrus.Entry) *logrus.Entry {
	id, ok := ctx.Value(requestIdKey).(string)
	if !ok {
		return log
	}
	return log.WithField("request_id", id)
}
