package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolDecode    = errors.New("protocol: decode failed")
	ErrRequestTimeout    = errors.New("protocol: request timeout")
	ErrConnectionClosed  = errors.New("protocol: connection closed")
	ErrHandshakeFailed   = errors.New("protocol: handshake failed")
	ErrUploadFailed      = errors.New("protocol: upload failed")
	ErrCompletionTimeout = errors.New("protocol: upload completion timeout")
	ErrNotReady          = errors.New("protocol: connection not ready")
)

// DecodeError marks a malformed frame or body. It is fatal for the connection
// that produced it.
type DecodeError struct {
	Err error
}

func NewDecodeError(err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrProtocolDecode, e.Err}
}

// RemoteStatusError is an application-level rejection reported by the peer.
type RemoteStatusError struct {
	Method string
	Code   int
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("protocol: %s rejected status=%d", e.Method, e.Code)
}

func RemoteStatus(method string, code int) error {
	return &RemoteStatusError{Method: method, Code: code}
}

// StatusCode extracts the remote status code from err, if any.
func StatusCode(err error) (int, bool) {
	var rs *RemoteStatusError
	if errors.As(err, &rs) {
		return rs.Code, true
	}
	return 0, false
}
