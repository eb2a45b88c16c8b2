package kintoclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound = errors.New("kinto: not found")
	// ErrConflict is returned when a conditional write fails, for example
	// creating a record that already exists.
	ErrConflict = errors.New("kinto: precondition failed")
)

// APIError is the error body Kinto returns with 4xx and 5xx responses.
type APIError struct {
	Status  int    `json:"code"`
	Errno   int    `json:"errno"`
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kinto api error (%d)", e.Status)
	}
	return fmt.Sprintf("kinto api error (%d, errno %d): %s", e.Status, e.Errno, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusPreconditionFailed || e.Status == http.StatusConflict
	}
	return false
}
