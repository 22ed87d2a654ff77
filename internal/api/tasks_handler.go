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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/security"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
	"github.com/voxscribe/voxscribe-hub/internal/transcribe"
)

// TasksHandler handles HTTP requests for tasks and their transcriptions
type TasksHandler struct {
	registry     *tasks.Registry
	orchestrator *transcribe.Orchestrator
}

// NewTasksHandler creates a new tasks handler
func NewTasksHandler(registry *tasks.Registry, orchestrator *transcribe.Orchestrator) *TasksHandler {
	return &TasksHandler{registry: registry, orchestrator: orchestrator}
}

// ListTasksResponse represents the response for listing tasks
type ListTasksResponse struct {
	Tasks      []*tasks.Task `json:"tasks"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// CreateTaskRequest represents the request for creating a task
type CreateTaskRequest struct {
	AudioSource string            `json:"audio_source"`
	Metadata    map[string]string `json:"metadata"`
}

// UpdateTaskRequest carries the caller-mutable task fields
type UpdateTaskRequest struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// AttachAudioRequest registers an audio artifact already on disk
type AttachAudioRequest struct {
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path"`
	FileSize   int64  `json:"file_size"`
	Format     string `json:"format"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// TransitionRequest asks for a state change
type TransitionRequest struct {
	State string `json:"state"`
}

// TranscribeRequest tunes a transcription attempt
type TranscribeRequest struct {
	Model       string  `json:"model,omitempty"`
	Language    string  `json:"language,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
}

// BatchTranscribeRequest names the tasks for a sequential batch run
type BatchTranscribeRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// ExportRequest selects the export format
type ExportRequest struct {
	Format string `json:"format"`
}

// HandleTasks handles GET /api/tasks and POST /api/tasks
func (h *TasksHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSearch handles GET /api/tasks/search
func (h *TasksHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	found, err := h.registry.SearchTasks(query)
	if err != nil {
		logging.LogError(err, "Failed to search tasks")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": found,
		"query": query,
	})
}

// HandleBatchTranscribe handles POST /api/transcribe/batch
func (h *TasksHandler) HandleBatchTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchTranscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.TaskIDs) == 0 {
		http.Error(w, "task_ids is required", http.StatusBadRequest)
		return
	}

	// The batch runs sequentially in the background; outcomes are read
	// back per task through the status endpoint.
	go func() {
		if err := h.orchestrator.BatchTranscribe(context.Background(), req.TaskIDs); err != nil {
			logging.LogError(err, "Batch transcription aborted")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": req.TaskIDs,
	})
}

// HandleModels handles GET /api/models
func (h *TasksHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models, err := h.orchestrator.ListBackendModels(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list models")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// HandleBackendHealth handles GET /api/backend/health
func (h *TasksHandler) HandleBackendHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reachable := h.orchestrator.TestBackendConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"reachable": reachable})
}

// HandleTaskByID routes /api/tasks/{id} and its subresources
func (h *TasksHandler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		http.Error(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	taskID := pathParts[0]
	if err := security.ValidateTaskID(taskID); err != nil {
		http.Error(w, "Invalid task ID", http.StatusBadRequest)
		return
	}
	subresource := ""
	if len(pathParts) > 1 {
		subresource = pathParts[1]
	}

	switch subresource {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.getTask(w, taskID)
		case http.MethodPatch:
			h.updateTask(w, r, taskID)
		case http.MethodDelete:
			h.deleteTask(w, taskID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "audio":
		switch r.Method {
		case http.MethodPost:
			h.attachAudio(w, r, taskID)
		case http.MethodGet:
			h.getAudio(w, taskID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "state":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.transition(w, r, taskID)
	case "transcribe":
		switch r.Method {
		case http.MethodPost:
			h.startTranscription(w, r, taskID)
		case http.MethodDelete:
			h.stopTranscription(w, taskID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "transcription":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if len(pathParts) > 2 && pathParts[2] == "status" {
			h.transcriptionStatus(w, taskID)
			return
		}
		h.transcriptionResult(w, taskID)
	case "export":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.export(w, r, taskID)
	default:
		http.Error(w, "Unknown resource", http.StatusNotFound)
	}
}

// listTasks handles GET /api/tasks
func (h *TasksHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	filters := tasks.TaskFilters{
		State:       tasks.TaskState(query.Get("state")),
		AudioSource: tasks.AudioSource(query.Get("audio_source")),
		Search:      query.Get("search"),
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}

	if startTimeStr := query.Get("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			filters.StartTime = &startTime
		}
	}
	if endTimeStr := query.Get("end_time"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			filters.EndTime = &endTime
		}
	}

	total, err := h.registry.CountTasks(filters)
	if err != nil {
		logging.LogError(err, "Failed to count tasks")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	list, err := h.registry.ListTasks(filters)
	if err != nil {
		logging.LogError(err, "Failed to list tasks")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	writeJSON(w, http.StatusOK, ListTasksResponse{
		Tasks:      list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// createTask handles POST /api/tasks
func (h *TasksHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	source := tasks.AudioSource(req.AudioSource)
	if source != tasks.SourceRecord && source != tasks.SourceImport {
		http.Error(w, "audio_source must be RECORD or IMPORT", http.StatusBadRequest)
		return
	}

	task, err := h.registry.CreateTask(source, req.Metadata)
	if err != nil {
		logging.LogError(err, "Failed to create task")
		http.Error(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

func (h *TasksHandler) getTask(w http.ResponseWriter, taskID string) {
	task, err := h.registry.GetTask(taskID)
	if err != nil {
		h.writeError(w, err, "Failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TasksHandler) updateTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	err := h.registry.UpdateTask(taskID, tasks.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(w, err, "Failed to update task")
		return
	}

	h.getTask(w, taskID)
}

func (h *TasksHandler) deleteTask(w http.ResponseWriter, taskID string) {
	if err := h.registry.DeleteTask(taskID); err != nil {
		h.writeError(w, err, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TasksHandler) attachAudio(w http.ResponseWriter, r *http.Request, taskID string) {
	var req AttachAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.FilePath == "" {
		http.Error(w, "file_path is required", http.StatusBadRequest)
		return
	}
	if req.FileName == "" {
		http.Error(w, "file_name is required", http.StatusBadRequest)
		return
	}

	file := tasks.NewAudioFile(taskID, req.FileName, req.FilePath, req.FileSize, req.Format)
	file.DurationMS = req.DurationMS
	file.SampleRate = req.SampleRate
	if req.Channels > 0 {
		file.Channels = req.Channels
	}

	if err := h.registry.AttachAudio(taskID, file); err != nil {
		h.writeError(w, err, "Failed to attach audio")
		return
	}

	writeJSON(w, http.StatusCreated, file)
}

func (h *TasksHandler) getAudio(w http.ResponseWriter, taskID string) {
	file, err := h.registry.AudioFile(taskID)
	if err != nil {
		h.writeError(w, err, "Failed to get audio file")
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *TasksHandler) transition(w http.ResponseWriter, r *http.Request, taskID string) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.State == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}

	if err := h.registry.TransitionState(taskID, tasks.TaskState(req.State)); err != nil {
		h.writeError(w, err, "Failed to transition task")
		return
	}

	h.getTask(w, taskID)
}

func (h *TasksHandler) startTranscription(w http.ResponseWriter, r *http.Request, taskID string) {
	var req TranscribeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	err := h.orchestrator.StartTranscription(taskID, transcribe.Options{
		Model:       req.Model,
		Language:    req.Language,
		Temperature: req.Temperature,
		Prompt:      req.Prompt,
	})
	if err != nil {
		h.writeError(w, err, "Failed to start transcription")
		return
	}

	writeJSON(w, http.StatusAccepted, h.orchestrator.GetTranscriptionStatus(taskID))
}

func (h *TasksHandler) stopTranscription(w http.ResponseWriter, taskID string) {
	if err := h.orchestrator.StopTranscription(taskID); err != nil {
		h.writeError(w, err, "Failed to stop transcription")
		return
	}
	writeJSON(w, http.StatusOK, h.orchestrator.GetTranscriptionStatus(taskID))
}

func (h *TasksHandler) transcriptionStatus(w http.ResponseWriter, taskID string) {
	writeJSON(w, http.StatusOK, h.orchestrator.GetTranscriptionStatus(taskID))
}

func (h *TasksHandler) transcriptionResult(w http.ResponseWriter, taskID string) {
	result, err := h.orchestrator.GetTranscriptionResult(taskID)
	if err != nil {
		h.writeError(w, err, "Failed to get transcription result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TasksHandler) export(w http.ResponseWriter, r *http.Request, taskID string) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Format == "" {
		http.Error(w, "format is required", http.StatusBadRequest)
		return
	}

	path, err := h.orchestrator.Export(taskID, req.Format)
	if err != nil {
		h.writeError(w, err, "Failed to export transcription")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": taskID,
		"format":  req.Format,
		"path":    path,
	})
}

// writeError maps domain errors to HTTP status codes
func (h *TasksHandler) writeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		http.Error(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, tasks.ErrResultNotFound):
		http.Error(w, "Transcription result not found", http.StatusNotFound)
	case errors.Is(err, tasks.ErrInvalidState), errors.Is(err, tasks.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transcribe.ErrBackendUnavailable):
		http.Error(w, "Transcription backend unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, transcribe.ErrUnsupportedFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, transcribe.ErrAudioNotFound):
		http.Error(w, "Audio file not found", http.StatusNotFound)
	default:
		logging.LogError(err, message, zap.String("handler", "tasks"))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.LogError(err, "Failed to encode response")
	}
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}

	if value, err := strconv.Atoi(param); err == nil {
		return value
	}

	return defaultValue
}
