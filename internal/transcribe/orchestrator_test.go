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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxscribe/voxscribe-hub/internal/storage"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// fakeClient is a scriptable backend for orchestrator tests
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	err     error
	text    string
	block   chan struct{} // when set, Transcribe waits for it or ctx
	started chan struct{} // closed once Transcribe is entered
}

func (f *fakeClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}

	// Real clients read the audio before any network work, so missing
	// audio fails the attempt here too.
	if _, err := readAudioFile(audioPath); err != nil {
		return nil, err
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	result := tasks.NewTranscriptionResult("", "fake-model")
	result.Text = f.text
	result.Language = "en"
	result.WordCount = CountWords(f.text)
	result.Segments = []tasks.TranscriptionSegment{
		{Start: 0, End: 1, Text: f.text},
	}
	return result, nil
}

func (f *fakeClient) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeClient) TestConnection(ctx context.Context) bool {
	return true
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type orchestratorFixture struct {
	registry     *tasks.Registry
	orchestrator *Orchestrator
	client       *fakeClient
	dataDir      string
}

func newOrchestratorFixture(t *testing.T, client *fakeClient) *orchestratorFixture {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	registry := tasks.NewRegistry(storage.NewTaskStore(db))

	var c Client
	if client != nil {
		c = client
	}
	orchestrator := NewOrchestrator(registry, storage.NewResultStore(db), c, NewStatusStore(), OrchestratorConfig{
		DataDir:      dir,
		ExportDir:    filepath.Join(dir, "exports"),
		DefaultModel: "fake-model",
	})

	return &orchestratorFixture{
		registry:     registry,
		orchestrator: orchestrator,
		client:       client,
		dataDir:      dir,
	}
}

// savedTask creates a task in SAVED state with a real audio artifact
func (f *orchestratorFixture) savedTask(t *testing.T) *tasks.Task {
	t.Helper()

	task, err := f.registry.CreateTask(tasks.SourceImport, nil)
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	audioPath := filepath.Join(f.dataDir, task.TaskID+".wav")
	if err := os.WriteFile(audioPath, []byte("audio"), 0640); err != nil {
		t.Fatalf("Failed to write audio: %v", err)
	}
	file := tasks.NewAudioFile(task.TaskID, filepath.Base(audioPath), audioPath, 5, "wav")
	if err := f.registry.AttachAudio(task.TaskID, file); err != nil {
		t.Fatalf("Failed to attach audio: %v", err)
	}
	if err := f.registry.TransitionState(task.TaskID, tasks.StateSaved); err != nil {
		t.Fatalf("Failed to transition to SAVED: %v", err)
	}

	saved, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	return saved
}

func (f *orchestratorFixture) waitDone(t *testing.T, taskID string) {
	t.Helper()
	select {
	case <-f.orchestrator.statuses.wait(taskID):
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for task %s to finish", taskID)
	}
	f.orchestrator.Wait()
}

func TestStartTranscriptionSuccess(t *testing.T) {
	client := &fakeClient{text: "hello transcription world"}
	f := newOrchestratorFixture(t, client)
	task := f.savedTask(t)

	if err := f.orchestrator.StartTranscription(task.TaskID, Options{}); err != nil {
		t.Fatalf("StartTranscription failed: %v", err)
	}
	f.waitDone(t, task.TaskID)

	got, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if got.State != tasks.StateCompleted {
		t.Errorf("Expected state COMPLETED, got %s", got.State)
	}
	if got.TranscriptionLoc == "" {
		t.Error("Expected transcription location to be set")
	}
	if _, err := os.Stat(got.TranscriptionLoc); err != nil {
		t.Errorf("Expected transcription artifact on disk: %v", err)
	}

	status := f.orchestrator.GetTranscriptionStatus(task.TaskID)
	if status.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", status.Status)
	}
	if status.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", status.Progress)
	}
	if status.EndTime == nil {
		t.Error("Expected end time to be set")
	}

	result, err := f.orchestrator.GetTranscriptionResult(task.TaskID)
	if err != nil {
		t.Fatalf("GetTranscriptionResult failed: %v", err)
	}
	if result.Text != "hello transcription world" {
		t.Errorf("Unexpected result text: %q", result.Text)
	}
	if result.TaskID != task.TaskID {
		t.Errorf("Result bound to wrong task: %s", result.TaskID)
	}
	if result.WordCount != 3 {
		t.Errorf("Expected word count 3, got %d", result.WordCount)
	}
}

func TestStartTranscriptionBackendFailure(t *testing.T) {
	client := &fakeClient{err: &BackendError{Provider: "fake", Status: 500, Message: "backend exploded"}}
	f := newOrchestratorFixture(t, client)
	task := f.savedTask(t)

	if err := f.orchestrator.StartTranscription(task.TaskID, Options{}); err != nil {
		t.Fatalf("StartTranscription failed: %v", err)
	}
	f.waitDone(t, task.TaskID)

	got, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if got.State != tasks.StateFailed {
		t.Errorf("Expected state FAILED, got %s", got.State)
	}

	status := f.orchestrator.GetTranscriptionStatus(task.TaskID)
	if status.Status != StatusFailed {
		t.Errorf("Expected status failed, got %s", status.Status)
	}
	if status.Error == "" {
		t.Error("Expected a non-empty error message")
	}

	if _, err := f.orchestrator.GetTranscriptionResult(task.TaskID); !errors.Is(err, tasks.ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound, got %v", err)
	}
}

func TestStartTranscriptionRequiresSavedState(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeClient{text: "x"})

	task, err := f.registry.CreateTask(tasks.SourceRecord, nil)
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	err = f.orchestrator.StartTranscription(task.TaskID, Options{})
	if !errors.Is(err, tasks.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for PENDING task, got %v", err)
	}
}

func TestStartTranscriptionConcurrentStarts(t *testing.T) {
	block := make(chan struct{})
	client := &fakeClient{text: "single attempt", block: block}
	f := newOrchestratorFixture(t, client)
	task := f.savedTask(t)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- f.orchestrator.StartTranscription(task.TaskID, Options{})
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	close(block)
	f.waitDone(t, task.TaskID)

	if len(failures) != 1 {
		t.Fatalf("Expected exactly one losing start, got %d errors", len(failures))
	}
	if !errors.Is(failures[0], tasks.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for the losing start, got %v", failures[0])
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("Expected a single backend call, got %d", got)
	}

	updated, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if updated.State != tasks.StateCompleted {
		t.Errorf("Expected COMPLETED after the winning attempt, got %s", updated.State)
	}
}

func TestStartTranscriptionUnknownTask(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeClient{text: "x"})

	err := f.orchestrator.StartTranscription("no-such-task", Options{})
	if !errors.Is(err, tasks.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestStartTranscriptionNoBackend(t *testing.T) {
	f := newOrchestratorFixture(t, nil)
	task := f.savedTask(t)

	err := f.orchestrator.StartTranscription(task.TaskID, Options{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}

	got, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if got.State != tasks.StateSaved {
		t.Errorf("Expected state to remain SAVED, got %s", got.State)
	}
}

func TestStopTranscriptionCancelsAttempt(t *testing.T) {
	client := &fakeClient{
		text:    "never delivered",
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	f := newOrchestratorFixture(t, client)
	task := f.savedTask(t)

	if err := f.orchestrator.StartTranscription(task.TaskID, Options{}); err != nil {
		t.Fatalf("StartTranscription failed: %v", err)
	}

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Backend call never started")
	}

	if err := f.orchestrator.StopTranscription(task.TaskID); err != nil {
		t.Fatalf("StopTranscription failed: %v", err)
	}
	f.orchestrator.Wait()

	got, err := f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if got.State != tasks.StateFailed {
		t.Errorf("Expected state FAILED after cancel, got %s", got.State)
	}

	status := f.orchestrator.GetTranscriptionStatus(task.TaskID)
	if status.Status != StatusCancelled {
		t.Errorf("Expected status cancelled, got %s", status.Status)
	}

	// The retry path after cancel: back to SAVED, then a fresh attempt.
	if err := f.registry.TransitionState(task.TaskID, tasks.StateSaved); err != nil {
		t.Fatalf("Failed to reset task to SAVED: %v", err)
	}
	client.block = nil
	if err := f.orchestrator.StartTranscription(task.TaskID, Options{}); err != nil {
		t.Fatalf("Retry StartTranscription failed: %v", err)
	}
	f.waitDone(t, task.TaskID)

	got, err = f.registry.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload task: %v", err)
	}
	if got.State != tasks.StateCompleted {
		t.Errorf("Expected retry to complete, got state %s", got.State)
	}
}

func TestGetTranscriptionProgress(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeClient{text: "x"})

	if got := f.orchestrator.GetTranscriptionProgress("unknown"); got != 0 {
		t.Errorf("Expected progress 0 for unknown task, got %d", got)
	}

	task := f.savedTask(t)
	if err := f.orchestrator.StartTranscription(task.TaskID, Options{}); err != nil {
		t.Fatalf("StartTranscription failed: %v", err)
	}
	f.waitDone(t, task.TaskID)

	if got := f.orchestrator.GetTranscriptionProgress(task.TaskID); got != 100 {
		t.Errorf("Expected progress 100 after completion, got %d", got)
	}
}

func TestBatchTranscribeContinuesPastFailures(t *testing.T) {
	// The first task has no audio path on disk, so its attempt fails;
	// the second must still run to completion.
	client := &fakeClient{text: "batch result"}
	f := newOrchestratorFixture(t, client)

	failing := f.savedTask(t)
	if err := os.Remove(filepath.Join(f.dataDir, failing.TaskID+".wav")); err != nil {
		t.Fatalf("Failed to remove audio: %v", err)
	}
	succeeding := f.savedTask(t)
	skipped := "missing-task-id"

	err := f.orchestrator.BatchTranscribe(context.Background(), []string{failing.TaskID, skipped, succeeding.TaskID})
	if err != nil {
		t.Fatalf("BatchTranscribe failed: %v", err)
	}
	f.orchestrator.Wait()

	gotFailing, err := f.registry.GetTask(failing.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload failing task: %v", err)
	}
	if gotFailing.State != tasks.StateFailed {
		t.Errorf("Expected failing task in FAILED, got %s", gotFailing.State)
	}

	gotSucceeding, err := f.registry.GetTask(succeeding.TaskID)
	if err != nil {
		t.Fatalf("Failed to reload succeeding task: %v", err)
	}
	if gotSucceeding.State != tasks.StateCompleted {
		t.Errorf("Expected succeeding task in COMPLETED, got %s", gotSucceeding.State)
	}
}

func TestBatchTranscribeHonorsContext(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeClient{text: "x"})
	task := f.savedTask(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.orchestrator.BatchTranscribe(ctx, []string{task.TaskID})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
