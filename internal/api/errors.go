package api

import (
	"errors"

	"wavectl/internal/component"
	"wavectl/internal/engine"
	"wavectl/internal/recorder"
	"wavectl/internal/scheduler"
)

// Common errors for API operations
var (
	// ErrRunInProgress is returned when a run, rollback or resume is
	// requested while another one is active.
	ErrRunInProgress = errors.New("another run is in progress")
	// ErrRunNotActive is returned when cancelling a run that is not executing.
	ErrRunNotActive = errors.New("run is not active")
)

// Error codes carried in HTTP error responses.
const (
	CodeRunInProgress   = "run_in_progress"
	CodeRunNotActive    = "run_not_active"
	CodeRunNotFound     = "run_not_found"
	CodeNotRollbackable = "not_rollbackable"
	CodeNotResumable    = "not_resumable"
	CodePlanning        = "planning_failed"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

var codeErrors = map[string]error{
	CodeRunInProgress:   ErrRunInProgress,
	CodeRunNotActive:    ErrRunNotActive,
	CodeRunNotFound:     recorder.ErrRunNotFound,
	CodeNotRollbackable: engine.ErrNotRollbackable,
	CodeNotResumable:    engine.ErrNotResumable,
	CodePlanning:        scheduler.ErrPlanning,
}

// errorCode classifies err for the wire.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return CodeRunInProgress
	case errors.Is(err, ErrRunNotActive):
		return CodeRunNotActive
	case errors.Is(err, recorder.ErrRunNotFound):
		return CodeRunNotFound
	case errors.Is(err, engine.ErrNotRollbackable):
		return CodeNotRollbackable
	case errors.Is(err, engine.ErrNotResumable):
		return CodeNotResumable
	case errors.Is(err, scheduler.ErrPlanning),
		errors.Is(err, component.ErrUnknownStage),
		errors.Is(err, component.ErrUnknownComponent):
		return CodePlanning
	default:
		return CodeInternal
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// RemoteError is an error reported by a wavectl server. It matches the
// sentinel of its code with errors.Is.
type RemoteError struct {
	Status int
	Code   string
	Msg    string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

func (e *RemoteError) Unwrap() error {
	return codeErrors[e.Code]
}
