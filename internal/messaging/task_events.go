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

package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// NATS subjects for task lifecycle events
const (
	SubjectTaskCreated = "voxscribe.tasks.created"
	SubjectTaskState   = "voxscribe.tasks.state"
	SubjectTaskDeleted = "voxscribe.tasks.deleted"
)

// TaskCreatedEvent announces a freshly created task
type TaskCreatedEvent struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	AudioSource string `json:"audio_source"`
	Timestamp   int64  `json:"timestamp"`
}

// TaskStateEvent announces a committed state transition
type TaskStateEvent struct {
	TaskID    string `json:"task_id"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
	Timestamp int64  `json:"timestamp"`
}

// TaskDeletedEvent announces a removed task
type TaskDeletedEvent struct {
	TaskID    string `json:"task_id"`
	Timestamp int64  `json:"timestamp"`
}

// TaskEventPublisher mirrors task lifecycle notifications onto NATS.
// It implements tasks.Listener; publish failures are logged and dropped
// because notifications are telemetry, never control flow.
type TaskEventPublisher struct {
	conn *nats.Conn
	url  string
}

// NewTaskEventPublisher creates a publisher for the given NATS URL
func NewTaskEventPublisher(url string) *TaskEventPublisher {
	if url == "" {
		url = nats.DefaultURL
	}
	return &TaskEventPublisher{url: url}
}

// Connect establishes the connection to the NATS server
func (p *TaskEventPublisher) Connect() error {
	log.Printf("🔌 Connecting to NATS at %s", p.url)

	opts := []nats.Option{
		nats.Name("voxscribe-hub"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1), // Retry indefinitely
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️  NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("🔄 NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Println("🔌 NATS connection closed")
		}),
	}

	conn, err := nats.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p.conn = conn
	log.Printf("✅ Connected to NATS server at %s", conn.ConnectedUrl())
	return nil
}

// Close drains and closes the NATS connection
func (p *TaskEventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Connected reports whether the publisher has a live connection
func (p *TaskEventPublisher) Connected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// OnTaskCreated implements tasks.Listener
func (p *TaskEventPublisher) OnTaskCreated(task *tasks.Task) {
	p.publish(SubjectTaskCreated, TaskCreatedEvent{
		TaskID:      task.TaskID,
		Title:       task.Title,
		AudioSource: string(task.AudioSource),
		Timestamp:   time.Now().Unix(),
	})
}

// OnTaskStateChanged implements tasks.Listener
func (p *TaskEventPublisher) OnTaskStateChanged(taskID string, oldState, newState tasks.TaskState) {
	p.publish(SubjectTaskState, TaskStateEvent{
		TaskID:    taskID,
		OldState:  string(oldState),
		NewState:  string(newState),
		Timestamp: time.Now().Unix(),
	})
}

// OnTaskDeleted implements tasks.Listener
func (p *TaskEventPublisher) OnTaskDeleted(taskID string) {
	p.publish(SubjectTaskDeleted, TaskDeletedEvent{
		TaskID:    taskID,
		Timestamp: time.Now().Unix(),
	})
}

// publish marshals and sends one event, logging failures
func (p *TaskEventPublisher) publish(subject string, event interface{}) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		logging.LogError(err, "Failed to marshal task event")
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		logging.LogError(err, "Failed to publish task event")
		return
	}

	logging.LogNATSEvent(subject, "publish")
}
