//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// EdgeWatcher is not available on non-Linux platforms.
type EdgeWatcher struct{}

// NewEdgeWatcher returns an error on non-Linux platforms.
func NewEdgeWatcher(chip string, crank, cam int, h Handler) (*EdgeWatcher, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *EdgeWatcher) Close() error {
	return nil
}

// LineOutput is not available on non-Linux platforms.
type LineOutput struct{}

// NewLineOutput returns an error on non-Linux platforms.
func NewLineOutput(chip string, offset int) (*LineOutput, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *LineOutput) Set(bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *LineOutput) Close() error {
	return nil
}
