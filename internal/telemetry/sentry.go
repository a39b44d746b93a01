// Package telemetry reports unexpected failures to Sentry. Every function is
// a no-op until Init succeeds with a non-empty DSN.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	gosentry "github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

var enabled atomic.Bool

// Init configures the Sentry client. An empty dsn leaves reporting disabled.
func Init(dsn, version, environment string) error {
	if dsn == "" {
		enabled.Store(false)
		return nil
	}

	err := gosentry.Init(gosentry.ClientOptions{
		Dsn:              dsn,
		Release:          "overseer@" + version,
		Environment:      environment,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}

	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})

	enabled.Store(true)
	return nil
}

// IsEnabled returns whether reports are being sent.
func IsEnabled() bool {
	return enabled.Load()
}

// CaptureError reports err with the given tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	gosentry.WithScope(func(scope *gosentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		gosentry.CaptureException(err)
	})
}

// Reporter returns a callback that reports errors under component.
func Reporter(component string) func(error) {
	return func(err error) {
		CaptureError(err, map[string]string{"component": component})
	}
}

// Flush waits briefly for buffered events to be sent.
func Flush() {
	if !enabled.Load() {
		return
	}
	gosentry.Flush(flushTimeout)
}

// RecoverPanic reports a panic, flushes, then re-panics.
// Usage: defer telemetry.RecoverPanic()
func RecoverPanic() {
	if !enabled.Load() {
		return
	}
	if err := recover(); err != nil {
		gosentry.CurrentHub().Recover(err)
		gosentry.Flush(flushTimeout)
		panic(err)
	}
}
