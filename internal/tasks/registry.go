/*
 * This file is part of VoxScribe (https://github.com/voxscribe/voxscribe).
 * Copyright (C) 2025 VoxScribe Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package tasks

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voxscribe/voxscribe-hub/internal/logging"
)

// Store is the persistence contract the registry drives. The SQLite
// implementation lives in internal/storage.
type Store interface {
	InsertTask(task *Task) error
	GetTask(taskID string) (*Task, error)
	ListTasks(filters TaskFilters) ([]*Task, error)
	CountTasks(filters TaskFilters) (int64, error)
	SearchTasks(query string) ([]*Task, error)
	UpdateTaskFields(taskID string, update TaskUpdate) (bool, error)
	SetAudioLocation(taskID, audioLoc string) error
	SetTranscriptionLocation(taskID, transcriptionLoc string) error
	CompareAndSetState(taskID string, from, to TaskState) (bool, error)
	DeleteTaskCascade(taskID string) error

	InsertAudioFile(file *AudioFile) error
	AudioFileForTask(taskID string) (*AudioFile, error)
}

// TaskUpdate carries the caller-mutable task fields. Nil fields are left
// untouched; structural fields (state, locations, source) are not reachable
// through updates at all.
type TaskUpdate struct {
	Title       *string
	Description *string
	Metadata    map[string]string
}

// Empty reports whether the update would change nothing
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Metadata == nil
}

// Listener receives task lifecycle notifications. Notifications are
// telemetry only and must never drive control flow.
type Listener interface {
	OnTaskCreated(task *Task)
	OnTaskStateChanged(taskID string, oldState, newState TaskState)
	OnTaskDeleted(taskID string)
}

// Registry owns task records and enforces the task state machine. It is
// the only component that writes task state: all mutations of one task are
// serialized behind a per-task lock, and the transition commit itself is a
// compare-and-set in the store.
type Registry struct {
	store Store

	mu        sync.RWMutex
	listeners []Listener

	locks taskLocks
}

// NewRegistry creates a registry over the given store
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		locks: taskLocks{entries: make(map[string]*lockEntry)},
	}
}

// Subscribe registers a lifecycle listener
func (r *Registry) Subscribe(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// CreateTask allocates a fresh PENDING task and persists it
func (r *Registry) CreateTask(source AudioSource, metadata map[string]string) (*Task, error) {
	task := NewTask(source, metadata)

	if err := r.store.InsertTask(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	logging.LogTaskOperation("create", task.TaskID,
		zap.String("title", task.Title),
		zap.String("audio_source", string(source)),
	)

	r.eachListener(func(l Listener) { l.OnTaskCreated(task) })
	return task, nil
}

// GetTask returns the task or ErrTaskNotFound
func (r *Registry) GetTask(taskID string) (*Task, error) {
	return r.store.GetTask(taskID)
}

// ListTasks returns tasks matching the filters, newest first
func (r *Registry) ListTasks(filters TaskFilters) ([]*Task, error) {
	return r.store.ListTasks(filters)
}

// CountTasks returns how many tasks match the filters, ignoring paging
func (r *Registry) CountTasks(filters TaskFilters) (int64, error) {
	return r.store.CountTasks(filters)
}

// SearchTasks does a substring match over title, description and the
// joined audio file name / transcription model, newest first
func (r *Registry) SearchTasks(query string) ([]*Task, error) {
	return r.store.SearchTasks(query)
}

// UpdateTask applies the caller-mutable fields. Updates carrying nothing
// recognized are a silent no-op.
func (r *Registry) UpdateTask(taskID string, update TaskUpdate) error {
	unlock := r.locks.lock(taskID)
	defer unlock()

	if update.Empty() {
		// Still surface NotFound for absent tasks.
		if _, err := r.store.GetTask(taskID); err != nil {
			return err
		}
		return nil
	}

	changed, err := r.store.UpdateTaskFields(taskID, update)
	if err != nil {
		return err
	}
	if changed {
		logging.LogTaskOperation("update", taskID)
	}
	return nil
}

// DeleteTask removes the task and its owned audio file and transcription
// result rows. Work in progress cannot be deleted.
func (r *Registry) DeleteTask(taskID string) error {
	unlock := r.locks.lock(taskID)
	defer unlock()

	task, err := r.store.GetTask(taskID)
	if err != nil {
		return err
	}

	if task.State == StateRecording || task.State == StateInTranscrib {
		return fmt.Errorf("%w: cannot delete task in state %s", ErrInvalidState, task.State)
	}

	if err := r.store.DeleteTaskCascade(taskID); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}

	logging.LogTaskOperation("delete", taskID, zap.String("state", string(task.State)))
	r.eachListener(func(l Listener) { l.OnTaskDeleted(taskID) })
	return nil
}

// TransitionState validates the requested transition against the state
// machine and commits it atomically. A task may not enter IN_TRANSCRIB
// without an audio location.
func (r *Registry) TransitionState(taskID string, newState TaskState) error {
	unlock := r.locks.lock(taskID)
	defer unlock()

	task, err := r.store.GetTask(taskID)
	if err != nil {
		return err
	}

	if !IsValidState(newState) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, newState)
	}
	if !CanTransition(task.State, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.State, newState)
	}
	if newState == StateInTranscrib && task.AudioLoc == "" {
		return fmt.Errorf("%w: task %s has no audio location", ErrInvalidState, taskID)
	}

	committed, err := r.store.CompareAndSetState(taskID, task.State, newState)
	if err != nil {
		return fmt.Errorf("failed to transition task %s: %w", taskID, err)
	}
	if !committed {
		// The row changed under us despite the per-task lock, which means
		// an out-of-band writer touched the store. Treat it as a lost race.
		return fmt.Errorf("%w: %s -> %s (state changed concurrently)", ErrInvalidTransition, task.State, newState)
	}

	logging.LogTaskOperation("transition", taskID,
		zap.String("old_state", string(task.State)),
		zap.String("new_state", string(newState)),
	)

	old := task.State
	r.eachListener(func(l Listener) { l.OnTaskStateChanged(taskID, old, newState) })
	return nil
}

// AttachAudio records the captured or imported audio artifact for a task
// and sets its audio location. The file collaborator calls this once the
// bytes are in place.
func (r *Registry) AttachAudio(taskID string, file *AudioFile) error {
	unlock := r.locks.lock(taskID)
	defer unlock()

	if _, err := r.store.GetTask(taskID); err != nil {
		return err
	}

	file.TaskID = taskID
	if err := r.store.InsertAudioFile(file); err != nil {
		return fmt.Errorf("failed to attach audio to task %s: %w", taskID, err)
	}
	if err := r.store.SetAudioLocation(taskID, file.FilePath); err != nil {
		return fmt.Errorf("failed to set audio location for task %s: %w", taskID, err)
	}

	logging.LogTaskOperation("attach_audio", taskID,
		zap.String("file_name", file.FileName),
		zap.Int64("file_size", file.FileSize),
	)
	return nil
}

// AudioFile returns the audio record owned by the task
func (r *Registry) AudioFile(taskID string) (*AudioFile, error) {
	return r.store.AudioFileForTask(taskID)
}

// SetTranscriptionLocation records where a task's transcription result
// artifact lives. Called by the orchestrator after persisting a result.
func (r *Registry) SetTranscriptionLocation(taskID, transcriptionLoc string) error {
	unlock := r.locks.lock(taskID)
	defer unlock()

	if _, err := r.store.GetTask(taskID); err != nil {
		return err
	}
	return r.store.SetTranscriptionLocation(taskID, transcriptionLoc)
}

// eachListener snapshots the listener set and invokes f on each entry
func (r *Registry) eachListener(f func(Listener)) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		f(l)
	}
}

// taskLocks provides single-writer-per-task serialization. Entries are
// reference counted so the map does not grow with task history.
type taskLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for taskID and returns its release func
func (tl *taskLocks) lock(taskID string) func() {
	tl.mu.Lock()
	entry, ok := tl.entries[taskID]
	if !ok {
		entry = &lockEntry{}
		tl.entries[taskID] = entry
	}
	entry.refs++
	tl.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		tl.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(tl.entries, taskID)
		}
		tl.mu.Unlock()
	}
}
