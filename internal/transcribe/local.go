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

//go:build whisper

package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// LocalClient runs whisper.cpp in-process. Built only with -tags whisper;
// the default build gets the stub in local_stub.go.
type LocalClient struct {
	model     whisper.Model
	modelPath string
	modelName string
}

// NewLocalClient loads the whisper model from the configured path
func NewLocalClient(cfg config.BackendConfig) (Client, error) {
	if _, err := os.Stat(cfg.URL); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", cfg.URL)
	}

	model, err := whisper.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.Sugar.Infow("Whisper model loaded", "model_path", cfg.URL)
	return &LocalClient{
		model:     model,
		modelPath: cfg.URL,
		modelName: cfg.Model,
	}, nil
}

// Transcribe implements the Client interface
func (c *LocalClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error) {
	audioData, err := readAudioFile(audioPath)
	if err != nil {
		return nil, err
	}

	samples, _, err := decodeWAV(audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := c.model.NewContext()
	if err != nil {
		return nil, &BackendError{Provider: "local", Message: "failed to create whisper context", Err: err}
	}

	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return nil, &BackendError{Provider: "local", Message: "failed to set language", Err: err}
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &BackendError{Provider: "local", Message: "failed to process audio", Err: err}
	}

	result := tasks.NewTranscriptionResult("", c.modelName)
	result.Language = opts.Language

	var transcript strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(segment.Text)
		if transcript.Len() > 0 {
			transcript.WriteString(" ")
		}
		transcript.WriteString(text)
		result.Segments = append(result.Segments, tasks.TranscriptionSegment{
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
	}

	result.Text = transcript.String()
	result.WordCount = CountWords(result.Text)

	raw, err := json.Marshal(map[string]interface{}{
		"text":     result.Text,
		"segments": result.Segments,
		"model":    c.modelName,
	})
	if err == nil {
		result.RawResponse = json.RawMessage(raw)
	}

	logging.Sugar.Infow("Local whisper transcription completed",
		"model", c.modelName,
		"word_count", result.WordCount,
		"segments", len(result.Segments),
	)

	return result, nil
}

// ListModels reports the single loaded model
func (c *LocalClient) ListModels(ctx context.Context) ([]string, error) {
	return []string{c.modelName}, nil
}

// TestConnection implements the Client interface
func (c *LocalClient) TestConnection(ctx context.Context) bool {
	return c.model != nil
}

// Close releases the whisper model
func (c *LocalClient) Close() error {
	if c.model != nil {
		c.model.Close()
	}
	return nil
}
