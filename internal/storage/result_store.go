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
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// ResultStore handles database operations for transcription results
type ResultStore struct {
	db *Database
}

// NewResultStore creates a new transcription result store
func NewResultStore(db *Database) *ResultStore {
	return &ResultStore{db: db}
}

// ReplaceForTask stores the result as the task's single current result,
// replacing any previous one in the same transaction
func (s *ResultStore) ReplaceForTask(result *tasks.TranscriptionResult) error {
	segmentsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		return fmt.Errorf("failed to serialize segments: %w", err)
	}

	tx, err := s.db.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin result transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM transcription_result WHERE task_id = ?", result.TaskID); err != nil {
		return fmt.Errorf("failed to clear previous result for task %s: %w", result.TaskID, err)
	}

	query := `
		INSERT INTO transcription_result (
			result_id, task_id, model, language, confidence,
			processing_time_ms, word_count, text, segments, raw_response,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.Exec(query,
		result.ResultID, result.TaskID, result.Model, result.Language, result.Confidence,
		result.ProcessingTimeMS, result.WordCount, result.Text, string(segmentsJSON), string(result.RawResponse),
		result.CreatedAt.UTC().Format(timeFormat), result.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcription result: %w", err)
	}

	return tx.Commit()
}

// ResultForTask retrieves the current transcription result owned by a task
func (s *ResultStore) ResultForTask(taskID string) (*tasks.TranscriptionResult, error) {
	query := `
		SELECT result_id, task_id, model, language, confidence,
		       processing_time_ms, word_count, text, segments, raw_response,
		       created_at, updated_at
		FROM transcription_result
		WHERE task_id = ?`

	var result tasks.TranscriptionResult
	var segmentsJSON, rawResponse, createdAt, updatedAt string

	err := s.db.DB().QueryRow(query, taskID).Scan(
		&result.ResultID, &result.TaskID, &result.Model, &result.Language, &result.Confidence,
		&result.ProcessingTimeMS, &result.WordCount, &result.Text, &segmentsJSON, &rawResponse,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, tasks.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result for task %s: %w", taskID, err)
	}

	if segmentsJSON != "" {
		if err := json.Unmarshal([]byte(segmentsJSON), &result.Segments); err != nil {
			return nil, fmt.Errorf("failed to parse segments: %w", err)
		}
	}
	if rawResponse != "" {
		result.RawResponse = json.RawMessage(rawResponse)
	}
	if result.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if result.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &result, nil
}

// DeleteForTask removes the task's current result, if any
func (s *ResultStore) DeleteForTask(taskID string) error {
	if _, err := s.db.DB().Exec("DELETE FROM transcription_result WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete result for task %s: %w", taskID, err)
	}
	return nil
}
