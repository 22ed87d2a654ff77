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

package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

func TestResultStoreReplaceAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewTaskStore(db)
	results := NewResultStore(db)

	task := insertTestTask(t, store, tasks.SourceImport)

	result := tasks.NewTranscriptionResult(task.TaskID, "whisper-1")
	result.Language = "en"
	result.Confidence = 0.87
	result.ProcessingTimeMS = 1523
	result.Text = "hello stored world"
	result.WordCount = 3
	result.Segments = []tasks.TranscriptionSegment{
		{Start: 0, End: 1.5, Text: "hello stored"},
		{Start: 1.5, End: 2.25, Text: "world"},
	}
	result.RawResponse = json.RawMessage(`{"text": "hello stored world"}`)

	if err := results.ReplaceForTask(result); err != nil {
		t.Fatalf("ReplaceForTask failed: %v", err)
	}

	got, err := results.ResultForTask(task.TaskID)
	if err != nil {
		t.Fatalf("ResultForTask failed: %v", err)
	}
	if got.ResultID != result.ResultID {
		t.Errorf("ResultID mismatch: %s vs %s", got.ResultID, result.ResultID)
	}
	if got.Model != "whisper-1" || got.Language != "en" {
		t.Errorf("Model/language mismatch: %+v", got)
	}
	if got.Confidence != 0.87 {
		t.Errorf("Confidence mismatch: %f", got.Confidence)
	}
	if got.ProcessingTimeMS != 1523 {
		t.Errorf("Processing time mismatch: %d", got.ProcessingTimeMS)
	}
	if got.Text != "hello stored world" {
		t.Errorf("Text mismatch: %q", got.Text)
	}
	if len(got.Segments) != 2 || got.Segments[1].End != 2.25 {
		t.Errorf("Segments mismatch: %+v", got.Segments)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(got.RawResponse, &raw); err != nil {
		t.Errorf("Raw response does not parse: %v", err)
	}
	if !got.CreatedAt.Equal(result.CreatedAt) {
		t.Errorf("CreatedAt mismatch: %v vs %v", got.CreatedAt, result.CreatedAt)
	}
}

func TestResultStoreReplaceSupersedes(t *testing.T) {
	db := setupTestDB(t)
	store := NewTaskStore(db)
	results := NewResultStore(db)

	task := insertTestTask(t, store, tasks.SourceImport)

	first := tasks.NewTranscriptionResult(task.TaskID, "whisper-1")
	first.Text = "first pass"
	if err := results.ReplaceForTask(first); err != nil {
		t.Fatalf("First ReplaceForTask failed: %v", err)
	}

	second := tasks.NewTranscriptionResult(task.TaskID, "whisper-large-v3")
	second.Text = "second pass"
	if err := results.ReplaceForTask(second); err != nil {
		t.Fatalf("Second ReplaceForTask failed: %v", err)
	}

	got, err := results.ResultForTask(task.TaskID)
	if err != nil {
		t.Fatalf("ResultForTask failed: %v", err)
	}
	if got.ResultID != second.ResultID || got.Text != "second pass" {
		t.Errorf("Expected the second result to replace the first, got %+v", got)
	}
}

func TestResultStoreMissing(t *testing.T) {
	results := NewResultStore(setupTestDB(t))
	if _, err := results.ResultForTask("missing"); !errors.Is(err, tasks.ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound, got %v", err)
	}
}

func TestResultStoreDeleteForTask(t *testing.T) {
	db := setupTestDB(t)
	store := NewTaskStore(db)
	results := NewResultStore(db)

	task := insertTestTask(t, store, tasks.SourceImport)
	result := tasks.NewTranscriptionResult(task.TaskID, "whisper-1")
	result.Text = "ephemeral"
	if err := results.ReplaceForTask(result); err != nil {
		t.Fatalf("ReplaceForTask failed: %v", err)
	}

	if err := results.DeleteForTask(task.TaskID); err != nil {
		t.Fatalf("DeleteForTask failed: %v", err)
	}
	if _, err := results.ResultForTask(task.TaskID); !errors.Is(err, tasks.ErrResultNotFound) {
		t.Errorf("Expected result gone, got %v", err)
	}

	// Deleting an absent result is not an error.
	if err := results.DeleteForTask(task.TaskID); err != nil {
		t.Errorf("Second DeleteForTask failed: %v", err)
	}
}
