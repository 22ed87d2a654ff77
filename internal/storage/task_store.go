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
	"fmt"
	"time"

	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// timeFormat is how timestamps are stored. The fixed-width fraction keeps
// ordering comparable with plain string comparison; RFC3339Nano trims
// trailing zeros, which breaks ORDER BY on sub-second timestamps.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// TaskStore handles database operations for tasks and their owned
// audio file rows. It implements tasks.Store.
type TaskStore struct {
	db *Database
}

// NewTaskStore creates a new task store
func NewTaskStore(db *Database) *TaskStore {
	return &TaskStore{db: db}
}

// InsertTask stores a new task row
func (s *TaskStore) InsertTask(task *tasks.Task) error {
	metadataJSON, err := task.MetadataJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize task metadata: %w", err)
	}

	query := `
		INSERT INTO task (
			task_id, title, description, state, audio_source,
			audio_loc, transcription_loc, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB().Exec(query,
		task.TaskID, task.Title, task.Description, string(task.State), string(task.AudioSource),
		task.AudioLoc, task.TranscriptionLoc, metadataJSON,
		task.CreatedAt.UTC().Format(timeFormat), task.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by id
func (s *TaskStore) GetTask(taskID string) (*tasks.Task, error) {
	query := `
		SELECT task_id, title, description, state, audio_source,
		       audio_loc, transcription_loc, metadata, created_at, updated_at
		FROM task
		WHERE task_id = ?`

	row := s.db.DB().QueryRow(query, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, tasks.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks retrieves tasks with conjunctive filtering, newest first
func (s *TaskStore) ListTasks(filters tasks.TaskFilters) ([]*tasks.Task, error) {
	query, args := buildListQuery(filters)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks returns how many tasks match the filters, ignoring paging
func (s *TaskStore) CountTasks(filters tasks.TaskFilters) (int64, error) {
	query := "SELECT COUNT(*) FROM task WHERE 1=1"
	var args []interface{}

	if filters.State != "" {
		query += " AND state = ?"
		args = append(args, string(filters.State))
	}
	if filters.AudioSource != "" {
		query += " AND audio_source = ?"
		args = append(args, string(filters.AudioSource))
	}
	if filters.StartTime != nil {
		query += " AND created_at >= ?"
		args = append(args, filters.StartTime.UTC().Format(timeFormat))
	}
	if filters.EndTime != nil {
		query += " AND created_at <= ?"
		args = append(args, filters.EndTime.UTC().Format(timeFormat))
	}
	if filters.Search != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern)
	}

	var count int64
	if err := s.db.DB().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// SearchTasks does a substring match over title, description, the audio
// file name and the transcription model, newest first
func (s *TaskStore) SearchTasks(searchQuery string) ([]*tasks.Task, error) {
	query := `
		SELECT DISTINCT t.task_id, t.title, t.description, t.state, t.audio_source,
		       t.audio_loc, t.transcription_loc, t.metadata, t.created_at, t.updated_at
		FROM task t
		LEFT JOIN audio_file af ON t.task_id = af.task_id
		LEFT JOIN transcription_result tr ON t.task_id = tr.task_id
		WHERE t.title LIKE ?
		   OR t.description LIKE ?
		   OR af.file_name LIKE ?
		   OR tr.model LIKE ?
		ORDER BY t.created_at DESC`

	pattern := "%" + searchQuery + "%"
	rows, err := s.db.DB().Query(query, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// UpdateTaskFields applies the mutable display fields. Returns whether a
// row was actually written.
func (s *TaskStore) UpdateTaskFields(taskID string, update tasks.TaskUpdate) (bool, error) {
	setClauses := []string{}
	args := []interface{}{}

	if update.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		setClauses = append(setClauses, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Metadata != nil {
		task := tasks.Task{Metadata: update.Metadata}
		metadataJSON, err := task.MetadataJSON()
		if err != nil {
			return false, fmt.Errorf("failed to serialize task metadata: %w", err)
		}
		setClauses = append(setClauses, "metadata = ?")
		args = append(args, metadataJSON)
	}

	if len(setClauses) == 0 {
		return false, nil
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(timeFormat), taskID)

	query := "UPDATE task SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE task_id = ?"

	result, err := s.db.DB().Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task %s: %w", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, tasks.ErrTaskNotFound
	}
	return true, nil
}

// SetAudioLocation records the audio artifact path on the task row
func (s *TaskStore) SetAudioLocation(taskID, audioLoc string) error {
	return s.setLocation(taskID, "audio_loc", audioLoc)
}

// SetTranscriptionLocation records the transcription artifact path on the
// task row
func (s *TaskStore) SetTranscriptionLocation(taskID, transcriptionLoc string) error {
	return s.setLocation(taskID, "transcription_loc", transcriptionLoc)
}

func (s *TaskStore) setLocation(taskID, column, value string) error {
	query := fmt.Sprintf("UPDATE task SET %s = ?, updated_at = ? WHERE task_id = ?", column)

	result, err := s.db.DB().Exec(query, value, time.Now().UTC().Format(timeFormat), taskID)
	if err != nil {
		return fmt.Errorf("failed to set %s for task %s: %w", column, taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

// CompareAndSetState atomically moves the task from one state to another.
// Returns false without error when the stored state no longer matches,
// which means a concurrent writer committed first.
func (s *TaskStore) CompareAndSetState(taskID string, from, to tasks.TaskState) (bool, error) {
	query := "UPDATE task SET state = ?, updated_at = ? WHERE task_id = ? AND state = ?"

	result, err := s.db.DB().Exec(query,
		string(to), time.Now().UTC().Format(timeFormat), taskID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition task %s: %w", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// DeleteTaskCascade removes the task and its owned audio file and
// transcription result rows in one transaction
func (s *TaskStore) DeleteTaskCascade(taskID string) error {
	tx, err := s.db.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM audio_file WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete audio files for task %s: %w", taskID, err)
	}
	if _, err := tx.Exec("DELETE FROM transcription_result WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete transcription results for task %s: %w", taskID, err)
	}

	result, err := tx.Exec("DELETE FROM task WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return tasks.ErrTaskNotFound
	}

	return tx.Commit()
}

// InsertAudioFile stores a new audio file row
func (s *TaskStore) InsertAudioFile(file *tasks.AudioFile) error {
	query := `
		INSERT INTO audio_file (
			file_id, task_id, file_name, file_path, file_size,
			duration_ms, format, sample_rate, channels, bit_rate,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().Exec(query,
		file.FileID, file.TaskID, file.FileName, file.FilePath, file.FileSize,
		file.DurationMS, file.Format, file.SampleRate, file.Channels, file.BitRate,
		file.CreatedAt.UTC().Format(timeFormat), file.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audio file: %w", err)
	}

	return nil
}

// AudioFileForTask retrieves the audio file owned by a task
func (s *TaskStore) AudioFileForTask(taskID string) (*tasks.AudioFile, error) {
	query := `
		SELECT file_id, task_id, file_name, file_path, file_size,
		       duration_ms, format, sample_rate, channels, bit_rate,
		       created_at, updated_at
		FROM audio_file
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	var file tasks.AudioFile
	var createdAt, updatedAt string

	err := s.db.DB().QueryRow(query, taskID).Scan(
		&file.FileID, &file.TaskID, &file.FileName, &file.FilePath, &file.FileSize,
		&file.DurationMS, &file.Format, &file.SampleRate, &file.Channels, &file.BitRate,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, tasks.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio file for task %s: %w", taskID, err)
	}

	if file.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if file.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &file, nil
}

// buildListQuery constructs the SQL query for ListTasks
func buildListQuery(filters tasks.TaskFilters) (string, []interface{}) {
	query := `
		SELECT task_id, title, description, state, audio_source,
		       audio_loc, transcription_loc, metadata, created_at, updated_at
		FROM task WHERE 1=1`

	var args []interface{}

	if filters.State != "" {
		query += " AND state = ?"
		args = append(args, string(filters.State))
	}

	if filters.AudioSource != "" {
		query += " AND audio_source = ?"
		args = append(args, string(filters.AudioSource))
	}

	if filters.StartTime != nil {
		query += " AND created_at >= ?"
		args = append(args, filters.StartTime.UTC().Format(timeFormat))
	}

	if filters.EndTime != nil {
		query += " AND created_at <= ?"
		args = append(args, filters.EndTime.UTC().Format(timeFormat))
	}

	if filters.Search != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern)
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)

		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	return query, args
}

// collectTasks drains rows into task records
func collectTasks(rows *sql.Rows) ([]*tasks.Task, error) {
	var list []*tasks.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return list, nil
}

// scanTask scans a database row into a Task struct
func scanTask(scanner interface{ Scan(dest ...interface{}) error }) (*tasks.Task, error) {
	var task tasks.Task
	var state, source, metadataJSON, createdAt, updatedAt string

	err := scanner.Scan(
		&task.TaskID, &task.Title, &task.Description, &state, &source,
		&task.AudioLoc, &task.TranscriptionLoc, &metadataJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.State = tasks.TaskState(state)
	task.AudioSource = tasks.AudioSource(source)

	if err := task.SetMetadataFromJSON(metadataJSON); err != nil {
		return nil, fmt.Errorf("failed to parse task metadata: %w", err)
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &task, nil
}

// parseTime parses a stored timestamp. RFC3339Nano accepts any fraction
// width, including values written before the fixed-width format.
func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}
