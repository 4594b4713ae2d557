package models

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown to the registry.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned for mutations on terminal or
	// nonexistent jobs.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrValidation is returned for malformed submissions.
	ErrValidation = errors.New("invalid request")

	// ErrTransport wraps network or connection failures on any call.
	ErrTransport = errors.New("transport failure")

	// ErrJobTimeout marks a job whose per-job deadline elapsed before a
	// terminal status was observed.
	ErrJobTimeout = errors.New("job timed out")

	// ErrReportWrite marks a result that could not be persisted.
	ErrReportWrite = errors.New("report write failed")
)
