package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit_EmptyDSN(t *testing.T) {
	err := Init("", "1.0.0", "test")
	assert.NoError(t, err)
	assert.False(t, IsEnabled())

	// everything is a safe no-op while disabled
	CaptureError(errors.New("boom"), map[string]string{"component": "test"})
	Reporter("sweeper")(errors.New("boom"))
	Flush()
	func() {
		defer RecoverPanic()
	}()
}

func TestInit_InvalidDSN(t *testing.T) {
	err := Init("not a dsn", "1.0.0", "test")
	assert.Error(t, err)
	assert.False(t, IsEnabled())
}

func TestCaptureError_NilIgnored(t *testing.T) {
	enabled.Store(true)
	defer enabled.Store(false)
	CaptureError(nil, nil)
}
