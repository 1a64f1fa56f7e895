//go:build !linux

package gpio

import "errors"

var errCdevUnsupported = errors.New("gpio: gpiocdev not supported on this platform (requires Linux)")

// CdevReader is not available on non-Linux platforms.
type CdevReader struct{}

// NewCdevReader returns an error on non-Linux platforms.
func NewCdevReader(Line) (*CdevReader, error) {
	return nil, errCdevUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *CdevReader) Read() (bool, error) {
	return false, errCdevUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *CdevReader) Close() error {
	return nil
}

// CdevWriter is not available on non-Linux platforms.
type CdevWriter struct{}

// NewCdevWriter returns an error on non-Linux platforms.
func NewCdevWriter(Line) (*CdevWriter, error) {
	return nil, errCdevUnsupported
}

// Write is not implemented on non-Linux platforms.
func (w *CdevWriter) Write(bool) error {
	return errCdevUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *CdevWriter) Close() error {
	return nil
}
