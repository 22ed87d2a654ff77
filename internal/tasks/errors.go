/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package tasks

import "errors"

var (
	// ErrTaskNotFound is returned when no task exists for the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrResultNotFound is returned when a task has no persisted
	// transcription result.
	ErrResultNotFound = errors.New("transcription result not found")

	// ErrInvalidState is returned when an operation is attempted from a
	// task state that forbids it, such as deleting work in progress.
	ErrInvalidState = errors.New("operation not allowed in current task state")

	// ErrInvalidTransition is returned when the requested state is not
	// reachable from the task's current state.
	ErrInvalidTransition = errors.New("invalid task state transition")
)
