// Package testlogger builds loggers for tests.
package testlogger

import (
	"os"
	"testing"

	"github.com/TheusHen/phe/phe/log"
)

// Level is DebugLevel when PHE_TEST_LOGS=DEBUG, InfoLevel otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv("PHE_TEST_LOGS"); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a JSON logger tagged with the test name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
