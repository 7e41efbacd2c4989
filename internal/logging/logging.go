// Package logging builds the node's logrus logger, honoring the
// environment variables spec §6 names: ACTYX_COLOR and ACTYX_LOG_JSON
// govern formatting, configured once at process start.
package logging

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger formatted per the process environment:
// ACTYX_LOG_JSON=1 selects JSON output (for log aggregators), otherwise a
// text formatter is used; ACTYX_COLOR=0 disables ANSI color in the text
// formatter (useful when output is piped to a file).
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if envBool("ACTYX_LOG_JSON", false) {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors: !envBool("ACTYX_COLOR", true),
			FullTimestamp: true,
		})
	}
	return log
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
