/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// WhisperdClient talks to a self-hosted whisper daemon that accepts the
// audio as a base64 JSON payload
type WhisperdClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
}

// whisperdRequest is the /transcribe request payload
type whisperdRequest struct {
	Audio       string  `json:"audio"`
	Model       string  `json:"model"`
	Language    string  `json:"language,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
}

// whisperdResponse is the /transcribe response payload
type whisperdResponse struct {
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	Confidence     float64 `json:"confidence"`
	ProcessingTime float64 `json:"processing_time"`
	Segments       []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// NewWhisperdClient creates a self-hosted whisperd client
func NewWhisperdClient(cfg config.BackendConfig) *WhisperdClient {
	return &WhisperdClient{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Transcribe implements the Client interface
func (c *WhisperdClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error) {
	audioData, err := readAudioFile(audioPath)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	logging.Sugar.Infow("Sending whisperd transcription request",
		"audio_path", audioPath,
		"audio_bytes", len(audioData),
		"model", model,
	)

	payload, err := json.Marshal(whisperdRequest{
		Audio:       base64.StdEncoding.EncodeToString(audioData),
		Model:       model,
		Language:    opts.Language,
		Temperature: opts.Temperature,
		Prompt:      opts.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transcribe request: %w", err)
	}

	body, err := c.doWithRetry(ctx, http.MethodPost, "/transcribe", payload)
	if err != nil {
		return nil, err
	}

	var resp whisperdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &BackendError{Provider: "whisperd", Message: "failed to parse transcription response", Err: err}
	}

	result := tasks.NewTranscriptionResult("", model)
	result.Language = resp.Language
	result.Confidence = resp.Confidence
	result.Text = resp.Text
	result.WordCount = CountWords(resp.Text)
	result.RawResponse = json.RawMessage(body)
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, tasks.TranscriptionSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	logging.Sugar.Infow("whisperd transcription completed",
		"model", model,
		"language", result.Language,
		"word_count", result.WordCount,
		"segments", len(result.Segments),
	)

	return result, nil
}

// ListModels returns the models the daemon has loaded
func (c *WhisperdClient) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	// Either {"models": [...]} or a bare list.
	var wrapped struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Models != nil {
		return wrapped.Models, nil
	}

	var models []string
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, &BackendError{Provider: "whisperd", Message: "failed to parse model list", Err: err}
	}
	return models, nil
}

// TestConnection implements the Client interface
func (c *WhisperdClient) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// authorize attaches the bearer token when one is configured
func (c *WhisperdClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// doWithRetry issues the request, retrying network failures and 5xx
// responses with a linear backoff
func (c *WhisperdClient) doWithRetry(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := retryBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &BackendError{Provider: "whisperd", Message: "request failed", Err: err}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &BackendError{Provider: "whisperd", Message: "failed to read response", Err: readErr}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		lastErr = &BackendError{Provider: "whisperd", Status: resp.StatusCode, Message: string(body)}
		if resp.StatusCode < http.StatusInternalServerError {
			break
		}
	}

	return nil, lastErr
}
