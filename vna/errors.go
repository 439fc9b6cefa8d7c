package vna

import "errors"

// Kind classifies an Error into the broad failure categories callers branch on.
type Kind uint8

const (
	// KindNone is reported for nil errors and errors not produced by go-vna.
	KindNone Kind = iota
	// KindState indicates an operation invalid in the current task state.
	KindState
	// KindConfigMissing indicates a required setting that has not been set yet.
	KindConfigMissing
	// KindConfigInvalid indicates a setting or selector value out of its domain.
	KindConfigInvalid
	// KindFrequencyRange indicates frequencies out of bounds or a sweep too large for the hardware.
	KindFrequencyRange
	// KindCalibration indicates missing, incomplete or inconsistent calibration data.
	KindCalibration
	// KindTransport indicates a failure talking to the instrument.
	KindTransport
	// KindCancelled indicates a caller initiated interruption.
	KindCancelled
	// KindHandle indicates a task handle that does not refer to a live task.
	KindHandle
)

// String returns string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindState:
		return "state"
	case KindConfigMissing:
		return "configuration-missing"
	case KindConfigInvalid:
		return "configuration-invalid"
	case KindFrequencyRange:
		return "frequency-range"
	case KindCalibration:
		return "calibration"
	case KindTransport:
		return "transport"
	case KindCancelled:
		return "cancelled"
	case KindHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Code is the stable numeric identifier of an Error, suitable for wire and API responses.
type Code uint8

const (
	CodeOK Code = iota
	CodeWrongState
	CodeMissingIP
	CodeMissingPort
	CodeMissingHop
	CodeMissingAtten
	CodeMissingFreqs
	CodeBadAtten
	CodeBadHop
	CodeBadPath
	CodeBadAddress
	CodeBadPort
	CodeBadTimeout
	CodeBadAcquisitionMode
	CodeBufferSize
	CodeFreqOutOfBounds
	CodeTooManyPoints
	CodeProgOverflow
	CodeBadCal
	CodeSocket
	CodeNoResponse
	CodeBytes
	CodeBadProm
	CodeInterrupted
	CodeBadHandle
)

// Error is the error type of every sentinel in this package.
//
// Errors returned by go-vna operations either are one of the sentinels or wrap one,
// so errors.Is, KindOf and CodeOf work on any of them.
type Error struct {
	code Code
	kind Kind
	msg  string
}

func newError(code Code, kind Kind, msg string) *Error {
	return &Error{code: code, kind: kind, msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Code returns the numeric code of e.
func (e *Error) Code() Code { return e.code }

// Kind returns the category of e.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of the first *Error in err's chain, or KindNone.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}

	return KindNone
}

// CodeOf returns the Code of the first *Error in err's chain.
// It returns CodeOK for nil and for errors not produced by go-vna.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}

	return CodeOK
}

var (
	// ErrWrongState indicates that the operation is not enabled in the task's current state.
	ErrWrongState = newError(CodeWrongState, KindState, "operation not allowed in current task state")
)

var (
	// ErrMissingIP indicates that the instrument address has not been set.
	ErrMissingIP = newError(CodeMissingIP, KindConfigMissing, "instrument address not set")
	// ErrMissingPort indicates that the instrument port has not been set.
	ErrMissingPort = newError(CodeMissingPort, KindConfigMissing, "instrument port not set")
	// ErrMissingHop indicates that the hop rate has not been set.
	ErrMissingHop = newError(CodeMissingHop, KindConfigMissing, "hop rate not set")
	// ErrMissingAtten indicates that the attenuation has not been set.
	ErrMissingAtten = newError(CodeMissingAtten, KindConfigMissing, "attenuation not set")
	// ErrMissingFreqs indicates that no sweep frequencies have been set.
	ErrMissingFreqs = newError(CodeMissingFreqs, KindConfigMissing, "frequencies not set")
)

var (
	// ErrBadAtten indicates an attenuation outside [0, 31] dB.
	ErrBadAtten = newError(CodeBadAtten, KindConfigInvalid, "attenuation out of range [0, 31]")
	// ErrBadHop indicates an unknown hop rate.
	ErrBadHop = newError(CodeBadHop, KindConfigInvalid, "invalid hop rate")
	// ErrBadPath indicates a path or S-parameter selector with unknown bits.
	ErrBadPath = newError(CodeBadPath, KindConfigInvalid, "invalid path selector")
	// ErrBadAddress indicates an instrument address that is neither an IP nor a host name.
	ErrBadAddress = newError(CodeBadAddress, KindConfigInvalid, "invalid instrument address")
	// ErrBadPort indicates a port outside [1, 65535] or the reserved broadcast port 1024.
	ErrBadPort = newError(CodeBadPort, KindConfigInvalid, "port is out of range [1, 65535] or reserved")
	// ErrBadTimeout indicates a negative timeout or poll interval.
	ErrBadTimeout = newError(CodeBadTimeout, KindConfigInvalid, "invalid timeout")
	// ErrBadAcquisitionMode indicates an unknown acquisition mode, or an asynchronous
	// operation on a synchronous task.
	ErrBadAcquisitionMode = newError(CodeBadAcquisitionMode, KindConfigInvalid, "invalid acquisition mode")
	// ErrBufferSize indicates a caller supplied buffer shorter than the sweep.
	ErrBufferSize = newError(CodeBufferSize, KindConfigInvalid, "buffer shorter than number of points")
)

var (
	// ErrFreqOutOfBounds indicates a frequency outside the instrument's range.
	ErrFreqOutOfBounds = newError(CodeFreqOutOfBounds, KindFrequencyRange, "frequency out of bounds")
	// ErrTooManyPoints indicates more sweep points than the instrument supports.
	ErrTooManyPoints = newError(CodeTooManyPoints, KindFrequencyRange, "too many frequency points")
	// ErrProgOverflow indicates that the sweep program does not fit into the instrument's memory.
	ErrProgOverflow = newError(CodeProgOverflow, KindFrequencyRange, "sweep program overflow")
)

var (
	// ErrBadCal indicates missing, incomplete or inconsistent calibration data.
	ErrBadCal = newError(CodeBadCal, KindCalibration, "bad calibration")
)

var (
	// ErrSocket indicates a local socket failure.
	ErrSocket = newError(CodeSocket, KindTransport, "socket error")
	// ErrNoResponse indicates that the instrument did not answer within the timeout.
	ErrNoResponse = newError(CodeNoResponse, KindTransport, "no response from instrument")
	// ErrBytes indicates a response with unexpected length or framing.
	ErrBytes = newError(CodeBytes, KindTransport, "unexpected response length or framing")
	// ErrBadProm indicates that the instrument PROM could not be decoded.
	ErrBadProm = newError(CodeBadProm, KindTransport, "invalid instrument PROM")
)

var (
	// ErrInterrupted indicates that the caller interrupted a blocking operation.
	ErrInterrupted = newError(CodeInterrupted, KindCancelled, "interrupted")
)

var (
	// ErrBadHandle indicates a task handle that was never issued or was already deleted.
	ErrBadHandle = newError(CodeBadHandle, KindHandle, "invalid task handle")
)
