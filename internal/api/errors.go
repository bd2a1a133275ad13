package api

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrRateLimited  = errors.New("rate limited by API")
	ErrUnauthorized = errors.New("api key rejected")
)

// serverError is a 5xx response.
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: %d", e.status)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// isRetryable reports failures worth another attempt: transport errors,
// 429 and 5xx.
func isRetryable(err error) bool {
	var se *serverError
	var te *transportError
	return errors.Is(err, ErrRateLimited) || errors.As(err, &se) || errors.As(err, &te)
}
