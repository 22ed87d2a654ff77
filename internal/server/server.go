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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/voxscribe/voxscribe-hub/internal/api"
	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/messaging"
	"github.com/voxscribe/voxscribe-hub/internal/storage"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
	"github.com/voxscribe/voxscribe-hub/internal/transcribe"
)

// Server wires the VoxScribe hub: SQLite storage, the task registry, the
// transcription orchestrator and the HTTP API on one mux.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server

	db           *storage.Database
	registry     *tasks.Registry
	orchestrator *transcribe.Orchestrator
	publisher    *messaging.TaskEventPublisher

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a fully wired server from the configuration
func New(cfg *config.Config) (*Server, error) {
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := tasks.NewRegistry(storage.NewTaskStore(db))

	var client transcribe.Client
	var defaultModel string
	if backendCfg, ok := cfg.ActiveBackend(""); ok {
		client, err = transcribe.NewClient(backendCfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create transcription backend: %w", err)
		}
		defaultModel = backendCfg.Model
	} else {
		logging.LogWarn("No transcription backend configured; transcription requests will be rejected")
	}

	orchestrator := transcribe.NewOrchestrator(registry, storage.NewResultStore(db), client,
		transcribe.NewStatusStore(), transcribe.OrchestratorConfig{
			DataDir:      cfg.Storage.DataDir,
			ExportDir:    cfg.Export.Dir,
			DefaultModel: defaultModel,
		})

	var publisher *messaging.TaskEventPublisher
	if cfg.NATS.Enabled {
		publisher = messaging.NewTaskEventPublisher(cfg.NATS.URL)
		if err := publisher.Connect(); err != nil {
			// The hub works without messaging; lifecycle events are telemetry.
			logging.LogError(err, "NATS unavailable, task events disabled")
			publisher = nil
		} else {
			registry.Subscribe(publisher)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:          cfg,
		mux:          http.NewServeMux(),
		db:           db,
		registry:     registry,
		orchestrator: orchestrator,
		publisher:    publisher,
		ctx:          ctx,
		cancel:       cancel,
	}

	s.server = &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes()
	return s, nil
}

// Registry exposes the task registry for embedding callers
func (s *Server) Registry() *tasks.Registry {
	return s.registry
}

// Orchestrator exposes the transcription orchestrator for embedding callers
func (s *Server) Orchestrator() *transcribe.Orchestrator {
	return s.orchestrator
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	logging.Sugar.Infow("🚀 VoxScribe Hub starting",
		"addr", s.server.Addr,
		"db_path", s.cfg.Storage.DBPath,
		"backend", s.cfg.Active,
		"nats_enabled", s.publisher != nil,
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server: no new requests, in-flight
// transcription attempts drained, then storage and messaging closed.
func (s *Server) Stop() error {
	logging.Sugar.Infow("🛑 Shutting down VoxScribe Hub")

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.orchestrator.Wait()

	if s.publisher != nil {
		s.publisher.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close failed: %w", err)
	}

	logging.Sugar.Infow("✅ VoxScribe Hub shut down successfully")
	return nil
}

// routes sets up HTTP routing
func (s *Server) routes() {
	handler := api.NewTasksHandler(s.registry, s.orchestrator)

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/tasks", handler.HandleTasks)
	s.mux.HandleFunc("/api/tasks/search", handler.HandleSearch)
	s.mux.HandleFunc("/api/tasks/", handler.HandleTaskByID)
	s.mux.HandleFunc("/api/transcribe/batch", handler.HandleBatchTranscribe)
	s.mux.HandleFunc("/api/models", handler.HandleModels)
	s.mux.HandleFunc("/api/backend/health", handler.HandleBackendHealth)

	logging.Sugar.Infow("🌐 HTTP routes configured",
		"tasks_endpoint", "/api/tasks",
		"batch_endpoint", "/api/transcribe/batch",
	)
}

// handleHealth provides hub health information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db.Ping() == nil

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"database":  dbOK,
		"backend":   s.cfg.Active,
		"messaging": s.publisher != nil && s.publisher.Connected(),
	}
	if !dbOK {
		health["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		logging.Sugar.Errorw("Failed to write health response", "error", err)
	}
}
