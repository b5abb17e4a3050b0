package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type FetchErrorKind int

const (
	InvalidRequest FetchErrorKind = iota + 1
	NetworkError
	BadResponse
	DecodeError
)

func (k FetchErrorKind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case NetworkError:
		return "network"
	case BadResponse:
		return "bad_response"
	case DecodeError:
		return "decode"
	}
	return "unknown"
}

// Sentinels for errors.Is matching on the kind of a FetchError.
var (
	ErrInvalidRequest = &FetchError{Kind: InvalidRequest}
	ErrNetwork        = &FetchError{Kind: NetworkError}
	ErrBadResponse    = &FetchError{Kind: BadResponse}
	ErrDecode         = &FetchError{Kind: DecodeError}
)

type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == BadResponse && e.Status != 0:
		return fmt.Sprintf("catalog: bad response status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("catalog: %s: %v", e.Kind, e.Err)
	}
	return "catalog: " + e.Kind.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind && t.Err == nil && t.Status == 0
}

func fetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

func errorKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// userMessage is the text surfaced to clients for a failed fetch; details
// stay in the log.
func userMessage(err error) string {
	switch errorKind(err) {
	case InvalidRequest:
		return "search is misconfigured"
	case NetworkError:
		if errors.Is(err, context.DeadlineExceeded) {
			return "catalog timed out"
		}
		return "catalog unreachable"
	}
	return "failed to fetch icons"
}

func httpStatusFor(err error) int {
	switch errorKind(err) {
	case InvalidRequest:
		return http.StatusInternalServerError
	case NetworkError:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case BadResponse, DecodeError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
