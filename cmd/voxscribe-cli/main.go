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

// voxscribe-cli is a maintenance client for the VoxScribe hub HTTP API:
// import audio as tasks, drive transcription, and export results.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
)

const defaultHubURL = "http://localhost:8080"

// Task mirrors the hub's task resource
type Task struct {
	TaskID           string            `json:"task_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	State            string            `json:"state"`
	AudioSource      string            `json:"audio_source"`
	AudioLoc         string            `json:"audio_loc,omitempty"`
	TranscriptionLoc string            `json:"transcription_loc,omitempty"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TranscriptionStatus mirrors the hub's attempt status resource
type TranscriptionStatus struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

func main() {
	var (
		hubURL    = flag.String("hub", defaultHubURL, "URL of the VoxScribe hub")
		action    = flag.String("action", "list", "Action to perform: list, info, import, transcribe, status, result, batch, export, delete")
		taskID    = flag.String("task", "", "Task ID for actions")
		taskIDs   = flag.String("tasks", "", "Comma-separated task IDs for batch action")
		audioPath = flag.String("audio", "", "Path to audio file for import action")
		exportFmt = flag.String("export-format", "txt", "Export format: txt, json, srt, vtt")
		state     = flag.String("state", "", "State filter for list action")
		format    = flag.String("format", "table", "Output format: table, json")
	)
	flag.Parse()

	client := &hubCLI{
		hubURL: *hubURL,
		format: *format,
		http:   &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch *action {
	case "list":
		err = client.listTasks(*state)
	case "info":
		err = requireTask(*taskID, client.getTask)
	case "import":
		if *audioPath == "" {
			fatal("audio path required for import action")
		}
		err = client.importAudio(*audioPath)
	case "transcribe":
		err = requireTask(*taskID, client.transcribe)
	case "status":
		err = requireTask(*taskID, client.status)
	case "result":
		err = requireTask(*taskID, client.result)
	case "batch":
		if *taskIDs == "" {
			fatal("task IDs required for batch action")
		}
		err = client.batch(strings.Split(*taskIDs, ","))
	case "export":
		if *taskID == "" {
			fatal("task ID required for export action")
		}
		err = client.export(*taskID, *exportFmt)
	case "delete":
		err = requireTask(*taskID, client.deleteTask)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %s\n", *action)
		fmt.Fprintf(os.Stderr, "Valid actions: list, info, import, transcribe, status, result, batch, export, delete\n")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

func requireTask(taskID string, fn func(string) error) error {
	if taskID == "" {
		fatal("task ID required for this action")
	}
	return fn(taskID)
}

type hubCLI struct {
	hubURL string
	format string
	http   *http.Client
}

func (c *hubCLI) listTasks(state string) error {
	url := c.hubURL + "/api/tasks?page_size=100"
	if state != "" {
		url += "&state=" + state
	}

	var result struct {
		Tasks []Task `json:"tasks"`
		Total int64  `json:"total"`
	}
	if err := c.getJSON(url, &result); err != nil {
		return err
	}

	if c.format == "json" {
		return printJSON(result.Tasks)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATE\tSOURCE\tCREATED")
	fmt.Fprintln(w, "---\t-----\t-----\t------\t-------")
	for _, task := range result.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			task.TaskID, task.Title, task.State, task.AudioSource,
			task.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d task(s)\n", result.Total)
	return nil
}

func (c *hubCLI) getTask(taskID string) error {
	var task Task
	if err := c.getJSON(c.hubURL+"/api/tasks/"+taskID, &task); err != nil {
		return err
	}
	return printJSON(task)
}

// importAudio creates an IMPORT task, attaches the audio file and moves
// the task to SAVED so it is ready for transcription
func (c *hubCLI) importAudio(audioPath string) error {
	absPath, err := filepath.Abs(audioPath)
	if err != nil {
		return fmt.Errorf("failed to resolve audio path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("audio file not accessible: %w", err)
	}

	var task Task
	err = c.postJSON(c.hubURL+"/api/tasks", map[string]interface{}{
		"audio_source": "IMPORT",
		"metadata":     map[string]string{"imported_from": absPath},
	}, &task)
	if err != nil {
		return err
	}

	ext := strings.TrimPrefix(filepath.Ext(absPath), ".")
	err = c.postJSON(c.hubURL+"/api/tasks/"+task.TaskID+"/audio", map[string]interface{}{
		"file_name": filepath.Base(absPath),
		"file_path": absPath,
		"file_size": info.Size(),
		"format":    ext,
	}, nil)
	if err != nil {
		return err
	}

	err = c.postJSON(c.hubURL+"/api/tasks/"+task.TaskID+"/state", map[string]interface{}{
		"state": "SAVED",
	}, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %s as task %s\n", filepath.Base(absPath), task.TaskID)
	return nil
}

func (c *hubCLI) transcribe(taskID string) error {
	var status TranscriptionStatus
	if err := c.postJSON(c.hubURL+"/api/tasks/"+taskID+"/transcribe", map[string]interface{}{}, &status); err != nil {
		return err
	}
	fmt.Printf("Transcription started for task %s (status: %s)\n", taskID, status.Status)
	return nil
}

func (c *hubCLI) status(taskID string) error {
	var status TranscriptionStatus
	if err := c.getJSON(c.hubURL+"/api/tasks/"+taskID+"/transcription/status", &status); err != nil {
		return err
	}
	fmt.Printf("Task %s: %s (%d%%)", taskID, status.Status, status.Progress)
	if status.Error != "" {
		fmt.Printf(" error: %s", status.Error)
	}
	fmt.Println()
	return nil
}

func (c *hubCLI) result(taskID string) error {
	var result json.RawMessage
	if err := c.getJSON(c.hubURL+"/api/tasks/"+taskID+"/transcription", &result); err != nil {
		return err
	}
	return printJSON(result)
}

func (c *hubCLI) batch(taskIDs []string) error {
	for i, id := range taskIDs {
		taskIDs[i] = strings.TrimSpace(id)
	}
	err := c.postJSON(c.hubURL+"/api/transcribe/batch", map[string]interface{}{
		"task_ids": taskIDs,
	}, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Batch transcription accepted for %d task(s)\n", len(taskIDs))
	return nil
}

func (c *hubCLI) export(taskID, format string) error {
	var resp struct {
		Path string `json:"path"`
	}
	err := c.postJSON(c.hubURL+"/api/tasks/"+taskID+"/export", map[string]interface{}{
		"format": format,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("Exported task %s to %s\n", taskID, resp.Path)
	return nil
}

func (c *hubCLI) deleteTask(taskID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.hubURL+"/api/tasks/"+taskID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	fmt.Printf("Deleted task %s\n", taskID)
	return nil
}

func (c *hubCLI) getJSON(url string, out interface{}) error {
	resp, err := c.http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *hubCLI) postJSON(url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("API returned status %d: %s", resp.StatusCode, msg)
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
