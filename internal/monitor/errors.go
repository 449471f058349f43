package monitor

import (
	"errors"
	"fmt"
)

// Standard errors returned by the monitor client.
var (
	// ErrNotConnected indicates no monitor connection is open.
	ErrNotConnected = errors.New("not connected to emulator")

	// ErrAlreadyConnected indicates a connection is already open.
	ErrAlreadyConnected = errors.New("already connected to emulator")

	// ErrConnectionClosed indicates the connection dropped while calls
	// were in flight.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout indicates a call received no matching response in time.
	ErrTimeout = errors.New("request timed out")

	// ErrIDExhausted indicates every request id is held by a pending call.
	ErrIDExhausted = errors.New("request id space exhausted")

	// ErrInvalidAddress indicates an address outside the 16-bit space.
	ErrInvalidAddress = errors.New("address outside 16-bit space")

	// ErrInvalidRange indicates start > end or a range spilling past $FFFF.
	ErrInvalidRange = errors.New("invalid address range")

	// ErrEmptyPayload indicates a memory write with no bytes.
	ErrEmptyPayload = errors.New("empty write payload")

	// ErrShortResponse indicates a response body too small for its layout.
	ErrShortResponse = errors.New("response body truncated")
)

// ErrorCode classifies a failure for callers that marshal errors onward.
type ErrorCode string

const (
	CodeNotConnected     ErrorCode = "NOT_CONNECTED"
	CodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED"
	CodeConnectFailed    ErrorCode = "CONNECT_FAILED"
	CodeConnectTimeout   ErrorCode = "CONNECT_TIMEOUT"
	CodeSendFailed       ErrorCode = "SEND_FAILED"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	CodeResponseTimeout  ErrorCode = "RESPONSE_TIMEOUT"
	CodeInvalidAddress   ErrorCode = "INVALID_ADDRESS"
	CodeInvalidRange     ErrorCode = "INVALID_RANGE"
	CodePeerError        ErrorCode = "PEER_ERROR"
)

// Error is the structured failure surfaced to callers: a stable code, a
// message, and a remediation hint. Transport internals never leak raw.
type Error struct {
	Code       ErrorCode
	Status     byte // peer status byte, set for CodePeerError only
	Message    string
	Suggestion string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error wrapping err.
func newError(code ErrorCode, err error, message, suggestion string) *Error {
	return &Error{Code: code, Message: message, Suggestion: suggestion, Err: err}
}

// Peer status codes. 0x00 is success; everything else classifies a refusal.
const (
	statusOK                byte = 0x00
	statusObjectMissing     byte = 0x01
	statusInvalidMemspace   byte = 0x02
	statusInvalidCmdLength  byte = 0x80
	statusInvalidParamLen   byte = 0x81
	statusInvalidAPIVersion byte = 0x82
	statusInvalidCmdType    byte = 0x83
	statusInvalidTarget     byte = 0x84
	statusInvalidParameter  byte = 0x85
)

// peerStatus maps a non-OK status byte to a message and suggestion.
var peerStatus = map[byte]struct {
	message    string
	suggestion string
}{
	statusObjectMissing: {
		"object does not exist",
		"the checkpoint or resource id is unknown to the emulator; refresh your local view",
	},
	statusInvalidMemspace: {
		"invalid memory space",
		"use the main memory space or a drive space the emulator exposes",
	},
	statusInvalidCmdLength: {
		"command length does not match its type",
		"the request body is malformed for this command; check the protocol generation setting",
	},
	statusInvalidParamLen: {
		"invalid parameter length",
		"a length-prefixed field disagrees with the body size",
	},
	statusInvalidAPIVersion: {
		"emulator rejected the API version",
		"select the protocol generation matching the emulator build",
	},
	statusInvalidCmdType: {
		"emulator does not recognize the command",
		"this command may not exist in the configured protocol generation",
	},
	statusInvalidTarget: {
		"invalid target",
		"the addressed device or display is not present",
	},
	statusInvalidParameter: {
		"invalid parameter value",
		"a request field holds a value the emulator refuses",
	},
}

// classifyStatus turns a non-OK response status into an *Error.
func classifyStatus(status byte) *Error {
	if s, ok := peerStatus[status]; ok {
		return &Error{
			Code:       CodePeerError,
			Status:     status,
			Message:    s.message,
			Suggestion: s.suggestion,
		}
	}
	return &Error{
		Code:       CodePeerError,
		Status:     status,
		Message:    fmt.Sprintf("emulator returned error 0x%02x", status),
		Suggestion: "consult the emulator's monitor log for details",
	}
}
