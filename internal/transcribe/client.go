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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// Options tune a single transcription call
type Options struct {
	Model       string
	Language    string
	Temperature float32
	Prompt      string
}

// Client is the capability set every transcription provider implements
type Client interface {
	// Transcribe converts the audio artifact at audioPath to a result.
	// Implementations read the file fully before any network call and
	// fail fast when it is missing.
	Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error)

	// ListModels returns the models the provider offers.
	ListModels(ctx context.Context) ([]string, error)

	// TestConnection reports reachability. It never returns an error:
	// any connectivity or auth failure reads as false.
	TestConnection(ctx context.Context) bool
}

// NewClient selects the provider implementation by the config's type
// discriminator. Unknown types are rejected at construction time.
func NewClient(cfg config.BackendConfig) (Client, error) {
	switch strings.ToLower(cfg.Type) {
	case config.BackendOpenAI:
		return NewOpenAIClient(cfg), nil
	case config.BackendWhisperd:
		return NewWhisperdClient(cfg), nil
	case config.BackendLocal:
		return NewLocalClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type: %q", cfg.Type)
	}
}

// CountWords counts maximal whitespace-delimited non-empty substrings.
// Word counts are always computed locally this way for consistency across
// backends, even when a backend reports its own count.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// readAudioFile loads the audio artifact, failing fast when it is absent
func readAudioFile(audioPath string) ([]byte, error) {
	data, err := os.ReadFile(audioPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, audioPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", audioPath, err)
	}
	return data, nil
}

// retryBackoff sleeps between retry attempts, honoring context
// cancellation. attempt is zero-based.
func retryBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * time.Second
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
