package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind buckets provider failures for retry and routing decisions.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindTimeout         ErrorKind = "timeout"
	KindRateLimited     ErrorKind = "rate_limited"
	KindAuth            ErrorKind = "auth"
	KindNetwork         ErrorKind = "network"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindModelLoad       ErrorKind = "model_load"
	KindContextOverflow ErrorKind = "context_overflow"
)

// AdapterError wraps provider errors with status metadata.
type AdapterError struct {
	Status    int
	Kind      ErrorKind
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("adapter error (status=%d kind=%s)", e.Status, e.Kind)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WrapStatus builds an AdapterError from an HTTP status code.
func WrapStatus(status int, err error) *AdapterError {
	return &AdapterError{Status: status, Kind: kindForStatus(status, err), Err: err}
}

func kindForStatus(status int, err error) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindNetwork
	case status == 400 && err != nil && looksLikeContextOverflow(err.Error()):
		return KindContextOverflow
	case status >= 400:
		return KindInvalidResponse
	default:
		return KindNone
	}
}

func looksLikeContextOverflow(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context window") ||
		strings.Contains(msg, "too many tokens") ||
		strings.Contains(msg, "prompt is too long")
}

// Classify maps an arbitrary error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) && adapterErr.Kind != KindNone {
		return adapterErr.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindNetwork
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		switch adapterErr.Kind {
		case KindAuth, KindInvalidResponse, KindContextOverflow:
			return false
		}
		if adapterErr.Status == 429 || (adapterErr.Status >= 500 && adapterErr.Status <= 599) {
			return true
		}
	}
	return false
}
