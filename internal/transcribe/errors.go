/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned when no transcription backend
	// client is configured.
	ErrBackendUnavailable = errors.New("no transcription backend configured")

	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrAudioNotFound is returned when a task's audio artifact is missing
	// on disk.
	ErrAudioNotFound = errors.New("audio file not found")
)

// BackendError wraps a failure reported by a transcription provider
type BackendError struct {
	Provider string
	Status   int // HTTP status when applicable, 0 otherwise
	Message  string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Provider, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
