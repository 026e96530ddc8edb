//go:build !linux

package hwtimer

import "errors"

// Real is not available on non-Linux platforms.
type Real struct{}

// NewReal returns an error on non-Linux platforms.
func NewReal() (*Real, error) {
	return nil, errors.New("hwtimer: monotonic alarm requires Linux")
}

// NowUs is not implemented on non-Linux platforms.
func (r *Real) NowUs() int64 { return 0 }

// SetAlarm is not implemented on non-Linux platforms.
func (r *Real) SetAlarm(atUs int64) {}

// OnAlarm is not implemented on non-Linux platforms.
func (r *Real) OnAlarm(fn func(nowUs int64)) {}

// Stop is not implemented on non-Linux platforms.
func (r *Real) Stop() {}
