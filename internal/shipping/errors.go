package shipping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

// ErrShuttingDown is returned by Handle/Add once shutdown has begun.
var ErrShuttingDown = errors.New("transport is shutting down")

// ConfigError reports every missing required configuration value at once.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// ConnectError means the initial health probe failed and the transport
// cannot start.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is a failed batch send: either a non-2xx response (StatusCode
// set, Body/Code/Message from the response) or a transport-level I/O error
// (Err set, StatusCode zero).
type SendError struct {
	StatusCode int
	Body       string
	Code       string
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("send rejected with status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("send rejected with status %d: %s", e.StatusCode, e.Body)
}

func (e *SendError) Unwrap() error { return e.Err }

var connectionSignatures = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"i/o timeout",
	"eof",
}

// IsConnection reports whether the failure is network-level rather than a
// response from the service.
func (e *SendError) IsConnection() bool {
	if e.Err == nil {
		return false
	}
	msg := strings.ToLower(e.Err.Error())
	for _, sig := range connectionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// NewSendError builds a SendError from a non-2xx response, extracting the
// service's structured error code and message when the body carries them.
func NewSendError(statusCode int, body []byte) *SendError {
	e := &SendError{StatusCode: statusCode, Body: string(body)}
	if v, err := fastjson.ParseBytes(body); err == nil {
		e.Code = string(v.GetStringBytes("errorCode"))
		e.Message = string(v.GetStringBytes("errorMessage"))
	}
	return e
}
