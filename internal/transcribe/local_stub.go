//go:build !whisper

package transcribe

import (
	"context"
	"fmt"

	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// LocalClient stub implementation when whisper.cpp is disabled
type LocalClient struct {
	modelName string
}

// NewLocalClient creates a stub client when whisper is disabled
func NewLocalClient(cfg config.BackendConfig) (Client, error) {
	return &LocalClient{modelName: cfg.Model}, nil
}

// Transcribe stub implementation always fails
func (c *LocalClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error) {
	return nil, fmt.Errorf("local whisper transcription disabled (build with -tags whisper to enable)")
}

// ListModels stub implementation returns no models
func (c *LocalClient) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

// TestConnection stub implementation always reports unavailable
func (c *LocalClient) TestConnection(ctx context.Context) bool {
	return false
}

// Close stub implementation
func (c *LocalClient) Close() error {
	return nil
}
