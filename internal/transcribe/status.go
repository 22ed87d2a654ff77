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

package transcribe

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Status is the ephemeral state of one transcription attempt
type Status string

const (
	StatusQueued       Status = "queued"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusNotFound     Status = "not_found"
)

// finishedRetention bounds how many terminal attempt statuses stay
// readable after the attempt ends
const finishedRetention = 128

// TranscriptionStatus tracks one in-flight or recently finished attempt.
// Entries are process-local; nothing here survives a restart.
type TranscriptionStatus struct {
	TaskID    string     `json:"task_id"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// attempt is the live tracking record for one orchestration attempt
type attempt struct {
	taskID string
	gen    uint64

	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// signalDone closes the attempt's completion channel exactly once
func (a *attempt) signalDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

// StatusStore tracks attempt statuses for one orchestrator instance.
// It is injected rather than shared globally so independent orchestrators
// can coexist in tests.
type StatusStore struct {
	mu       sync.Mutex
	nextGen  uint64
	active   map[string]*attempt
	statuses map[string]TranscriptionStatus
	finished *lru.Cache[string, TranscriptionStatus]
}

// NewStatusStore creates an empty status store
func NewStatusStore() *StatusStore {
	// Cache construction only fails for a non-positive size.
	finished, _ := lru.New[string, TranscriptionStatus](finishedRetention)
	return &StatusStore{
		active:   make(map[string]*attempt),
		statuses: make(map[string]TranscriptionStatus),
		finished: finished,
	}
}

// begin registers a new attempt for the task, superseding any stale one.
// The returned attempt carries the context the backend call must use.
func (s *StatusStore) begin(taskID string) *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.active[taskID]; ok {
		// A stale attempt is still running; its terminal write will be
		// discarded because its generation no longer matches.
		old.cancel()
		old.signalDone()
	}

	s.nextGen++
	ctx, cancel := context.WithCancel(context.Background())
	att := &attempt{
		taskID: taskID,
		gen:    s.nextGen,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.active[taskID] = att
	s.statuses[taskID] = TranscriptionStatus{
		TaskID:    taskID,
		Status:    StatusTranscribing,
		Progress:  0,
		StartTime: time.Now(),
	}
	return att
}

// finish moves the attempt to a terminal status. Returns false when the
// attempt was superseded or already finished, in which case the caller
// must discard its outcome instead of touching task state.
func (s *StatusStore) finish(att *attempt, terminal Status, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.active[att.taskID]
	if !ok || current.gen != att.gen {
		return false
	}

	status := s.statuses[att.taskID]
	status.Status = terminal
	status.Error = errMsg
	now := time.Now()
	status.EndTime = &now
	if terminal == StatusCompleted {
		status.Progress = 100
	}

	delete(s.active, att.taskID)
	delete(s.statuses, att.taskID)
	s.finished.Add(att.taskID, status)
	return true
}

// current returns the active attempt for the task, if any
func (s *StatusStore) current(taskID string) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.active[taskID]
	return att, ok
}

// Get returns the tracked status for the task. Absence reads as not_found.
func (s *StatusStore) Get(taskID string) TranscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.statuses[taskID]; ok {
		return status
	}
	if status, ok := s.finished.Get(taskID); ok {
		return status
	}
	return TranscriptionStatus{
		TaskID:    taskID,
		Status:    StatusNotFound,
		Progress:  0,
		StartTime: time.Now(),
	}
}

// wait returns a channel closed when the task's active attempt reaches a
// terminal status. With no active attempt the channel is already closed.
func (s *StatusStore) wait(taskID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if att, ok := s.active[taskID]; ok {
		return att.done
	}

	closed := make(chan struct{})
	close(closed)
	return closed
}
