package sis8300

import "errors"

/*
 * Error kinds surfaced by the clock synthesis and device layers.
 * All failures abort the current setup and propagate; side effects
 * already performed (mux routing, divider resets) are not rolled back.
 * Use errors.Is to classify.
 */

var (
	// ErrDeviceIO - register ioctl failed; wraps the OS error.
	ErrDeviceIO = errors.New("device i/o error")

	// ErrBadFirmware - firmware reports an unsupported capability.
	ErrBadFirmware = errors.New("unsupported firmware")

	// ErrNoReference - Si5326 reports no valid reference clock.
	ErrNoReference = errors.New("si5326: no reference")

	// ErrNotLocked - Si5326 did not lock after internal calibration.
	ErrNotLocked = errors.New("si5326: won't lock")

	// ErrInvalidParam - a user-supplied value is outside its legal range.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNotSolvable - no legal divider combination for the requested frequency.
	ErrNotSolvable = errors.New("no divider configuration found")

	// ErrOverClocked - derived digitizer clock exceeds the ADC maximum.
	ErrOverClocked = errors.New("digitizer clock too high for ADC")

	// ErrTimeout - an SPI state machine stayed busy beyond its retry budget.
	ErrTimeout = errors.New("SPI state machine timeout")
)
