package influxdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed matches every error delivered to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrInvalidPoint is a guest point refused before it reached the
	// batch, for example one without a MAC.
	ErrInvalidPoint = errors.New("influxdb: invalid point")
)

// WriteError is an asynchronous write failure. Batches are flushed by the
// client library, so the failure names the bucket, not the point.
// Rejected points carry the measurement and guest instead.
type WriteError struct {
	Bucket      string
	Measurement string
	MAC         string
	Err         error
}

func (e *WriteError) Error() string {
	if e.Measurement != "" {
		return fmt.Sprintf("influxdb: %s point for %q: %v", e.Measurement, e.MAC, e.Err)
	}
	return fmt.Sprintf("influxdb: write to bucket %q: %v", e.Bucket, e.Err)
}

// Unwrap matches ErrWriteFailed as well as the cause.
func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}
