// Package testutils provides shared helpers for package tests
package testutils

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// DefaultTimeout bounds every test context
const DefaultTimeout = 5 * time.Second

// Context returns a context cancelled when the test ends or after DefaultTimeout
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a development logger that writes through t.Log
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}
