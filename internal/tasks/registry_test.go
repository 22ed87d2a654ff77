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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// memStore is an in-memory Store for registry tests. The SQLite-backed
// store has its own tests in internal/storage.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	audio   map[string]*AudioFile
	failCAS bool
}

func newMemStore() *memStore {
	return &memStore{
		tasks: make(map[string]*Task),
		audio: make(map[string]*AudioFile),
	}
}

func (m *memStore) InsertTask(task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.TaskID] = &copied
	return nil
}

func (m *memStore) GetTask(taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	copied := *task
	return &copied, nil
}

func (m *memStore) ListTasks(filters TaskFilters) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, task := range m.tasks {
		if filters.State != "" && task.State != filters.State {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) CountTasks(filters TaskFilters) (int64, error) {
	list, err := m.ListTasks(filters)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (m *memStore) SearchTasks(query string) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, task := range m.tasks {
		if strings.Contains(task.Title, query) || strings.Contains(task.Description, query) {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) UpdateTaskFields(taskID string, update TaskUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.Metadata != nil {
		task.Metadata = update.Metadata
	}
	return true, nil
}

func (m *memStore) SetAudioLocation(taskID, audioLoc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task.AudioLoc = audioLoc
	return nil
}

func (m *memStore) SetTranscriptionLocation(taskID, transcriptionLoc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task.TranscriptionLoc = transcriptionLoc
	return nil
}

func (m *memStore) CompareAndSetState(taskID string, from, to TaskState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCAS {
		return false, nil
	}
	task, ok := m.tasks[taskID]
	if !ok || task.State != from {
		return false, nil
	}
	task.State = to
	return true, nil
}

func (m *memStore) DeleteTaskCascade(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	delete(m.tasks, taskID)
	delete(m.audio, taskID)
	return nil
}

func (m *memStore) InsertAudioFile(file *AudioFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *file
	m.audio[file.TaskID] = &copied
	return nil
}

func (m *memStore) AudioFileForTask(taskID string) (*AudioFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.audio[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: no audio for task %s", ErrTaskNotFound, taskID)
	}
	copied := *file
	return &copied, nil
}

// recordingListener captures lifecycle notifications
type recordingListener struct {
	mu          sync.Mutex
	created     []string
	deleted     []string
	transitions []string
}

func (l *recordingListener) OnTaskCreated(task *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, task.TaskID)
}

func (l *recordingListener) OnTaskStateChanged(taskID string, oldState, newState TaskState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, fmt.Sprintf("%s:%s->%s", taskID, oldState, newState))
}

func (l *recordingListener) OnTaskDeleted(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, taskID)
}

func TestRegistryCreateTask(t *testing.T) {
	store := newMemStore()
	registry := NewRegistry(store)
	listener := &recordingListener{}
	registry.Subscribe(listener)

	task, err := registry.CreateTask(SourceRecord, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.State != StatePending {
		t.Errorf("Expected PENDING, got %s", task.State)
	}

	got, err := registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.TaskID != task.TaskID {
		t.Errorf("Round trip mismatch: %s vs %s", got.TaskID, task.TaskID)
	}

	if len(listener.created) != 1 || listener.created[0] != task.TaskID {
		t.Errorf("Expected creation notification, got %v", listener.created)
	}
}

func TestRegistryGetTaskNotFound(t *testing.T) {
	registry := NewRegistry(newMemStore())
	if _, err := registry.GetTask("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestRegistryUpdateTask(t *testing.T) {
	registry := NewRegistry(newMemStore())
	task, err := registry.CreateTask(SourceImport, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	title := "renamed"
	description := "new description"
	err = registry.UpdateTask(task.TaskID, TaskUpdate{Title: &title, Description: &description})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, err := registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "renamed" || got.Description != "new description" {
		t.Errorf("Update not applied: %+v", got)
	}

	// Empty updates are a no-op but still surface missing tasks.
	if err := registry.UpdateTask(task.TaskID, TaskUpdate{}); err != nil {
		t.Errorf("Empty update on existing task failed: %v", err)
	}
	if err := registry.UpdateTask("missing", TaskUpdate{}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for empty update on missing task, got %v", err)
	}
}

func TestRegistryTransitionState(t *testing.T) {
	store := newMemStore()
	registry := NewRegistry(store)
	listener := &recordingListener{}
	registry.Subscribe(listener)

	task, err := registry.CreateTask(SourceRecord, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := registry.TransitionState(task.TaskID, StateRecording); err != nil {
		t.Fatalf("PENDING -> RECORDING failed: %v", err)
	}
	if err := registry.TransitionState(task.TaskID, StateSaved); err != nil {
		t.Fatalf("RECORDING -> SAVED failed: %v", err)
	}

	// SAVED -> COMPLETED skips IN_TRANSCRIB and must be rejected.
	err = registry.TransitionState(task.TaskID, StateCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	// Unknown target state.
	err = registry.TransitionState(task.TaskID, "BOGUS")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for unknown state, got %v", err)
	}

	want := fmt.Sprintf("%s:%s->%s", task.TaskID, StatePending, StateRecording)
	if len(listener.transitions) != 2 || listener.transitions[0] != want {
		t.Errorf("Unexpected transition notifications: %v", listener.transitions)
	}
}

func TestRegistryTransitionRequiresAudioLocation(t *testing.T) {
	registry := NewRegistry(newMemStore())
	task, err := registry.CreateTask(SourceImport, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := registry.TransitionState(task.TaskID, StateSaved); err != nil {
		t.Fatalf("PENDING -> SAVED failed: %v", err)
	}

	err = registry.TransitionState(task.TaskID, StateInTranscrib)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState without audio location, got %v", err)
	}

	file := NewAudioFile(task.TaskID, "a.wav", "/data/a.wav", 10, "wav")
	if err := registry.AttachAudio(task.TaskID, file); err != nil {
		t.Fatalf("AttachAudio failed: %v", err)
	}
	if err := registry.TransitionState(task.TaskID, StateInTranscrib); err != nil {
		t.Errorf("SAVED -> IN_TRANSCRIB with audio failed: %v", err)
	}
}

func TestRegistryTransitionLostRace(t *testing.T) {
	store := newMemStore()
	registry := NewRegistry(store)
	task, err := registry.CreateTask(SourceRecord, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	store.failCAS = true
	err = registry.TransitionState(task.TaskID, StateRecording)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on lost race, got %v", err)
	}
}

func TestRegistryDeleteTask(t *testing.T) {
	store := newMemStore()
	registry := NewRegistry(store)
	listener := &recordingListener{}
	registry.Subscribe(listener)

	task, err := registry.CreateTask(SourceRecord, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Work in progress cannot be deleted.
	if err := registry.TransitionState(task.TaskID, StateRecording); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := registry.DeleteTask(task.TaskID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState deleting RECORDING task, got %v", err)
	}

	if err := registry.TransitionState(task.TaskID, StateSaved); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := registry.DeleteTask(task.TaskID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, err := registry.GetTask(task.TaskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected task gone, got %v", err)
	}
	if len(listener.deleted) != 1 || listener.deleted[0] != task.TaskID {
		t.Errorf("Expected deletion notification, got %v", listener.deleted)
	}

	if err := registry.DeleteTask("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for missing task, got %v", err)
	}
}

func TestRegistryAttachAudio(t *testing.T) {
	registry := NewRegistry(newMemStore())
	task, err := registry.CreateTask(SourceImport, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	file := NewAudioFile("", "clip.wav", "/data/clip.wav", 128, "wav")
	if err := registry.AttachAudio(task.TaskID, file); err != nil {
		t.Fatalf("AttachAudio failed: %v", err)
	}

	got, err := registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.AudioLoc != "/data/clip.wav" {
		t.Errorf("Expected audio location set, got %q", got.AudioLoc)
	}

	audio, err := registry.AudioFile(task.TaskID)
	if err != nil {
		t.Fatalf("AudioFile failed: %v", err)
	}
	if audio.TaskID != task.TaskID {
		t.Errorf("Audio not bound to task: %s", audio.TaskID)
	}

	if err := registry.AttachAudio("missing", file); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskLocksRelease(t *testing.T) {
	tl := taskLocks{entries: make(map[string]*lockEntry)}

	unlock := tl.lock("task-1")
	if len(tl.entries) != 1 {
		t.Fatalf("Expected 1 lock entry, got %d", len(tl.entries))
	}
	unlock()
	if len(tl.entries) != 0 {
		t.Errorf("Expected lock entry to be released, got %d", len(tl.entries))
	}

	// Serialization: a second locker waits for the first.
	unlock = tl.lock("task-2")
	acquired := make(chan struct{})
	go func() {
		u := tl.lock("task-2")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("Second lock acquired while first still held")
	default:
	}

	unlock()
	<-acquired
}
