// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the ADR-021 error handling pattern.
// Callers wrap them with fmt.Errorf("...: %w", err) and classify with errors.Is.
var (
	// Attachment errors (fatal at startup, never retried)
	ErrAttach = errors.New("netmon: probe attachment failed")

	// Capture errors (per packet, the packet is skipped and still passed)
	ErrCaptureParse = errors.New("netmon: capture parse failed")

	// Transport errors
	ErrOverflow    = errors.New("netmon: transport overflow")
	ErrShortRecord = errors.New("netmon: short event record")
	ErrClosed      = errors.New("netmon: channel closed")

	// Decode errors (rendered as unparsed, never fatal)
	ErrUnparsed = errors.New("netmon: payload unparsed")

	// Output errors (fatal at runtime, orderly shutdown)
	ErrOutput = errors.New("netmon: output write failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("netmon: invalid configuration")
)

// IsFatal reports whether err belongs to a category that must stop the monitor.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAttach) || errors.Is(err, ErrOutput) || errors.Is(err, ErrConfigInvalid)
}
