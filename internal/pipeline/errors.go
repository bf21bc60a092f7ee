package pipeline

import "errors"

// Failure sentinels. Every pipeline error wraps exactly one of these; the
// HTTP layer maps them to status codes and user-visible messages without
// leaking internal detail.
var (
	// ErrNotFound means no session exists for the recording id and no
	// backing file is present either.
	ErrNotFound = errors.New("recording not found")

	// ErrStateConflict means the buffer and the filesystem disagree (an
	// orphaned file from a crashed run) or a duplicate end signal arrived
	// while processing is in flight.
	ErrStateConflict = errors.New("recording state conflict")

	// ErrUserNotFound means the supplied user identifier resolved to no
	// employee record.
	ErrUserNotFound = errors.New("employee not found")

	// ErrEmptyAudio means the assembled file contains no audio bytes.
	ErrEmptyAudio = errors.New("assembled audio file is empty")

	// ErrFileMissing means the assembled file disappeared before
	// transcription could read it.
	ErrFileMissing = errors.New("assembled audio file is missing")

	// ErrPlanParse means the plan generator's reply could not be parsed,
	// even after the bracket-extraction fallback.
	ErrPlanParse = errors.New("failed to parse generated plan")

	// ErrPersistence means the plan transaction failed and was rolled back.
	ErrPersistence = errors.New("failed to persist plan")

	// ErrTransport covers any generator-service call failure not
	// otherwise classified.
	ErrTransport = errors.New("generator service unavailable")
)

// Category returns the stable failure category string for a pipeline
// error, or "internal" for errors outside the taxonomy.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEmptyAudio):
		return "empty_audio"
	case errors.Is(err, ErrFileMissing):
		return "file_missing"
	case errors.Is(err, ErrPlanParse):
		return "plan_parse_failure"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrTransport):
		return "transport_failure"
	default:
		return "internal"
	}
}
