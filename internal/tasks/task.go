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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a task
type TaskState string

const (
	StatePending     TaskState = "PENDING"
	StateRecording   TaskState = "RECORDING"
	StateSaved       TaskState = "SAVED"
	StateInTranscrib TaskState = "IN_TRANSCRIB"
	StateCompleted   TaskState = "COMPLETED"
	StateFailed      TaskState = "FAILED"
)

// AudioSource describes where a task's audio comes from
type AudioSource string

const (
	SourceRecord AudioSource = "RECORD"
	SourceImport AudioSource = "IMPORT"
)

// validTransitions is the task state machine. COMPLETED and FAILED are
// re-enterable: completed tasks can be reprocessed and failed tasks retried.
var validTransitions = map[TaskState][]TaskState{
	StatePending:     {StateRecording, StateSaved, StateFailed},
	StateRecording:   {StateSaved, StateFailed},
	StateSaved:       {StateInTranscrib, StateFailed},
	StateInTranscrib: {StateCompleted, StateFailed},
	StateCompleted:   {StateFailed},
	StateFailed:      {StatePending, StateSaved},
}

// IsValidState reports whether s is a known task state
func IsValidState(s TaskState) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to TaskState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Task is the unit of work representing one audio-to-text job
type Task struct {
	TaskID           string            `json:"task_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	State            TaskState         `json:"state"`
	AudioSource      AudioSource       `json:"audio_source"`
	AudioLoc         string            `json:"audio_loc,omitempty"`
	TranscriptionLoc string            `json:"transcription_loc,omitempty"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewTask creates a PENDING task with a generated identifier and title
func NewTask(source AudioSource, metadata map[string]string) *Task {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = make(map[string]string)
	}

	return &Task{
		TaskID:      uuid.NewString(),
		Title:       generateTitle(source, now),
		Description: metadata["description"],
		State:       StatePending,
		AudioSource: source,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// generateTitle builds the default display title from source and creation time
func generateTitle(source AudioSource, createdAt time.Time) string {
	kind := "Import"
	if source == SourceRecord {
		kind = "Recording"
	}
	return fmt.Sprintf("%s task - %s", kind, createdAt.Format("2006-01-02 15:04"))
}

// MetadataJSON serializes the metadata bag for storage
func (t *Task) MetadataJSON() (string, error) {
	if t.Metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(t.Metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetMetadataFromJSON deserializes the stored metadata bag
func (t *Task) SetMetadataFromJSON(data string) error {
	if data == "" {
		t.Metadata = make(map[string]string)
		return nil
	}
	return json.Unmarshal([]byte(data), &t.Metadata)
}

// AudioFile carries format metadata and a handle to a task's audio bytes.
// It is owned by its task and removed with it.
type AudioFile struct {
	FileID     string    `json:"file_id"`
	TaskID     string    `json:"task_id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Format     string    `json:"format"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	BitRate    int       `json:"bit_rate,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAudioFile creates an audio file record for a task
func NewAudioFile(taskID, fileName, filePath string, fileSize int64, format string) *AudioFile {
	now := time.Now().UTC()
	return &AudioFile{
		FileID:    uuid.NewString(),
		TaskID:    taskID,
		FileName:  fileName,
		FilePath:  filePath,
		FileSize:  fileSize,
		Format:    format,
		Channels:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TranscriptionSegment is one backend-reported cue with timing in seconds
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult holds the persisted outcome of one successful
// transcription attempt. A task has at most one current result;
// re-transcription replaces it.
type TranscriptionResult struct {
	ResultID         string                 `json:"result_id"`
	TaskID           string                 `json:"task_id"`
	Model            string                 `json:"model"`
	Language         string                 `json:"language,omitempty"`
	Confidence       float64                `json:"confidence,omitempty"`
	ProcessingTimeMS int64                  `json:"processing_time_ms"`
	WordCount        int                    `json:"word_count"`
	Text             string                 `json:"text"`
	Segments         []TranscriptionSegment `json:"segments,omitempty"`
	RawResponse      json.RawMessage        `json:"raw_response,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewTranscriptionResult creates a result record for a task
func NewTranscriptionResult(taskID, model string) *TranscriptionResult {
	now := time.Now().UTC()
	return &TranscriptionResult{
		ResultID:  uuid.NewString(),
		TaskID:    taskID,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TaskFilters compose conjunctively when listing tasks
type TaskFilters struct {
	State       TaskState
	AudioSource AudioSource
	StartTime   *time.Time
	EndTime     *time.Time
	Search      string // substring over title and description

	Limit  int
	Offset int
}
