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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/security"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// ResultStore persists transcription results. The SQLite implementation
// lives in internal/storage.
type ResultStore interface {
	ReplaceForTask(result *tasks.TranscriptionResult) error
	ResultForTask(taskID string) (*tasks.TranscriptionResult, error)
}

// OrchestratorConfig holds orchestrator paths and defaults
type OrchestratorConfig struct {
	DataDir      string // transcription artifacts go under <DataDir>/transcriptions
	ExportDir    string
	DefaultModel string
}

// Orchestrator drives tasks from SAVED to COMPLETED or FAILED by invoking
// the backend client once per attempt. The caller of StartTranscription is
// never blocked on the backend call; errors inside the attempt surface
// only through task state and the attempt status.
type Orchestrator struct {
	registry *tasks.Registry
	results  ResultStore
	client   Client // nil when no backend is configured
	statuses *StatusStore
	cfg      OrchestratorConfig

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. client may be nil; every start
// request then fails with ErrBackendUnavailable. statuses must be a store
// dedicated to this orchestrator instance.
func NewOrchestrator(registry *tasks.Registry, results ResultStore, client Client, statuses *StatusStore, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		results:  results,
		client:   client,
		statuses: statuses,
		cfg:      cfg,
	}
}

// StartTranscription begins an asynchronous transcription attempt for a
// SAVED task. It returns once the attempt is registered; the outcome is
// observable through GetTranscriptionStatus and the task's state.
func (o *Orchestrator) StartTranscription(taskID string, opts Options) error {
	task, err := o.registry.GetTask(taskID)
	if err != nil {
		return err
	}

	if task.State != tasks.StateSaved {
		return fmt.Errorf("%w: cannot transcribe task in state %s", tasks.ErrInvalidState, task.State)
	}

	if o.client == nil {
		return ErrBackendUnavailable
	}

	if err := o.registry.TransitionState(taskID, tasks.StateInTranscrib); err != nil {
		// A concurrent start can win the SAVED -> IN_TRANSCRIB commit
		// between the state check above and this call; the loser reports
		// the same error as any other wrong-state start.
		if errors.Is(err, tasks.ErrInvalidTransition) {
			return fmt.Errorf("%w: task %s left state %s", tasks.ErrInvalidState, taskID, tasks.StateSaved)
		}
		return err
	}

	att := o.statuses.begin(taskID)

	logging.LogTranscription(taskID, "started",
		zap.String("audio_loc", task.AudioLoc),
		zap.String("model", o.modelFor(opts)),
	)

	o.wg.Add(1)
	go o.runAttempt(att, task, opts)
	return nil
}

// StopTranscription cancels the in-flight attempt and forces the task to
// FAILED. Cancellation is cooperative: the backend call observes it at its
// next yield point, and a late result for a cancelled attempt is discarded.
func (o *Orchestrator) StopTranscription(taskID string) error {
	if att, ok := o.statuses.current(taskID); ok {
		att.cancel()
		o.statuses.finish(att, StatusCancelled, "transcription cancelled")
		defer att.signalDone()
	}

	if err := o.registry.TransitionState(taskID, tasks.StateFailed); err != nil {
		return err
	}

	logging.LogTranscription(taskID, "cancelled")
	return nil
}

// GetTranscriptionStatus returns the tracked status for the task's latest
// attempt, or a not_found status when none is tracked
func (o *Orchestrator) GetTranscriptionStatus(taskID string) TranscriptionStatus {
	return o.statuses.Get(taskID)
}

// GetTranscriptionProgress returns the attempt progress, 0 if unknown
func (o *Orchestrator) GetTranscriptionProgress(taskID string) int {
	status := o.statuses.Get(taskID)
	if status.Status == StatusNotFound {
		return 0
	}
	return status.Progress
}

// GetTranscriptionResult returns the task's persisted result
func (o *Orchestrator) GetTranscriptionResult(taskID string) (*tasks.TranscriptionResult, error) {
	task, err := o.registry.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.TranscriptionLoc == "" {
		return nil, fmt.Errorf("%w: task %s", tasks.ErrResultNotFound, taskID)
	}
	return o.results.ResultForTask(taskID)
}

// BatchTranscribe processes the tasks strictly sequentially, blocking on
// each attempt's completion signal before starting the next. A failing
// task does not abort the batch; outcomes are surfaced through the
// individual task states and statuses.
func (o *Orchestrator) BatchTranscribe(ctx context.Context, taskIDs []string) error {
	logging.Sugar.Infow("Starting batch transcription", "task_count", len(taskIDs))

	for _, taskID := range taskIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.StartTranscription(taskID, Options{}); err != nil {
			logging.LogError(err, "Batch task failed to start", zap.String("task_id", taskID))
			continue
		}

		select {
		case <-o.statuses.wait(taskID):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logging.Sugar.Infow("Batch transcription finished", "task_count", len(taskIDs))
	return nil
}

// DefaultModel returns the model used when a request does not name one
func (o *Orchestrator) DefaultModel() string {
	return o.cfg.DefaultModel
}

// Wait blocks until all in-flight attempts have finished. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// TestBackendConnection reports whether the configured backend is reachable
func (o *Orchestrator) TestBackendConnection(ctx context.Context) bool {
	if o.client == nil {
		return false
	}
	return o.client.TestConnection(ctx)
}

// ListBackendModels returns the configured backend's models
func (o *Orchestrator) ListBackendModels(ctx context.Context) ([]string, error) {
	if o.client == nil {
		return nil, ErrBackendUnavailable
	}
	return o.client.ListModels(ctx)
}

// runAttempt executes one transcription attempt to its terminal status
func (o *Orchestrator) runAttempt(att *attempt, task *tasks.Task, opts Options) {
	defer o.wg.Done()
	defer att.signalDone()

	start := time.Now()

	result, err := o.client.Transcribe(att.ctx, task.AudioLoc, opts)
	if err != nil {
		o.failAttempt(att, task.TaskID, err)
		return
	}

	result.TaskID = task.TaskID
	result.ProcessingTimeMS = time.Since(start).Milliseconds()

	transcriptionLoc, err := o.persistResult(result)
	if err != nil {
		o.failAttempt(att, task.TaskID, err)
		return
	}

	// Commit the terminal state only if this attempt is still the current
	// one; a cancelled or superseded attempt must not overwrite state.
	if !o.statuses.finish(att, StatusCompleted, "") {
		logging.LogWarn("Discarding result of superseded transcription attempt",
			zap.String("task_id", task.TaskID))
		return
	}

	if err := o.registry.SetTranscriptionLocation(task.TaskID, transcriptionLoc); err != nil {
		logging.LogError(err, "Failed to record transcription location", zap.String("task_id", task.TaskID))
	}
	if err := o.registry.TransitionState(task.TaskID, tasks.StateCompleted); err != nil {
		logging.LogError(err, "Failed to complete task", zap.String("task_id", task.TaskID))
		return
	}

	logging.LogTranscription(task.TaskID, "completed",
		zap.Int64("processing_time_ms", result.ProcessingTimeMS),
		zap.Int("word_count", result.WordCount),
		zap.String("language", result.Language),
	)
}

// failAttempt records a failed attempt and moves the task to FAILED
func (o *Orchestrator) failAttempt(att *attempt, taskID string, cause error) {
	if !o.statuses.finish(att, StatusFailed, cause.Error()) {
		logging.LogWarn("Discarding failure of superseded transcription attempt",
			zap.String("task_id", taskID))
		return
	}

	if err := o.registry.TransitionState(taskID, tasks.StateFailed); err != nil {
		logging.LogError(err, "Failed to mark task failed", zap.String("task_id", taskID))
	}

	logging.LogTranscription(taskID, "failed", zap.String("error", cause.Error()))
}

// persistResult writes the result artifact and the database row, and
// returns the artifact path
func (o *Orchestrator) persistResult(result *tasks.TranscriptionResult) (string, error) {
	// Task IDs become directory names, so reject anything that could
	// escape the data directory.
	if err := security.ValidateTaskID(result.TaskID); err != nil {
		return "", err
	}

	dir := filepath.Join(o.cfg.DataDir, "transcriptions", result.TaskID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create transcription directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize transcription result: %w", err)
	}

	path := filepath.Join(dir, "transcription.json")
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("failed to write transcription artifact: %w", err)
	}

	if err := o.results.ReplaceForTask(result); err != nil {
		return "", err
	}

	return path, nil
}

// modelFor resolves the model an attempt will use
func (o *Orchestrator) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return o.cfg.DefaultModel
}
