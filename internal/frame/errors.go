package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrBadHeader matches any *HeaderError.
	ErrBadHeader = errors.New("bad frame header")
	// ErrBadChecksum matches any *ChecksumError.
	ErrBadChecksum = errors.New("bad frame checksum")
	// ErrIncompleteFrame matches a *TransportError for a short read.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrTransport matches a *TransportError raised by the byte source.
	ErrTransport = errors.New("transport error")
)

// Reason classifies a TransportError.
type Reason int

const (
	ReasonIncomplete Reason = iota
	ReasonTransport
)

func (r Reason) String() string {
	if r == ReasonIncomplete {
		return "incomplete frame"
	}
	return "transport error"
}

// TransportError reports that no complete frame could be acquired.
type TransportError struct {
	Reason Reason
	Got    int
	Want   int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v after %d of %d bytes: %v", e.Reason, e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("%v: got %d of %d bytes", e.Reason, e.Got, e.Want)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrIncompleteFrame:
		return e.Reason == ReasonIncomplete
	case ErrTransport:
		return e.Reason == ReasonTransport
	}
	return false
}

// HeaderError reports a sync header mismatch.
type HeaderError struct {
	Expected []byte
	Actual   []byte
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("invalid frame header: expected % X, got % X", e.Expected, e.Actual)
}

func (e *HeaderError) Is(target error) bool { return target == ErrBadHeader }

// ChecksumError reports a checksum mismatch.
type ChecksumError struct {
	Computed uint32
	Received uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: calculated %d, received %d", e.Computed, e.Received)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrBadChecksum }

// Outcome labels for a poll cycle. They are stored with each reading.
const (
	OutcomeOK         = "ok"
	OutcomeIncomplete = "incomplete_frame"
	OutcomeTransport  = "transport_error"
	OutcomeBadHeader  = "bad_header"
	OutcomeBadCheck   = "bad_checksum"
	OutcomeUnknown    = "error"
)

// Classify maps an Acquire or Validate error to an outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrIncompleteFrame):
		return OutcomeIncomplete
	case errors.Is(err, ErrTransport):
		return OutcomeTransport
	case errors.Is(err, ErrBadHeader):
		return OutcomeBadHeader
	case errors.Is(err, ErrBadChecksum):
		return OutcomeBadCheck
	default:
		return OutcomeUnknown
	}
}
