/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/voxscribe/voxscribe-hub/internal/config"
	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// OpenAIClient talks to the OpenAI audio transcription API (or any
// endpoint speaking the same protocol) via key-authenticated multipart
// upload
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
}

// openaiSegment mirrors one verbose_json segment
type openaiSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// openaiTranscription mirrors the verbose_json transcription response
type openaiTranscription struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Segments []openaiSegment `json:"segments"`
}

// openaiModelList mirrors the /models response
type openaiModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewOpenAIClient creates an OpenAI transcription client
func NewOpenAIClient(cfg config.BackendConfig) *OpenAIClient {
	return &OpenAIClient{
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
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*tasks.TranscriptionResult, error) {
	audioData, err := readAudioFile(audioPath)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	logging.Sugar.Infow("Sending OpenAI transcription request",
		"audio_path", audioPath,
		"audio_bytes", len(audioData),
		"model", model,
	)

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	audioWriter, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := audioWriter.Write(audioData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "verbose_json")
	if opts.Language != "" {
		_ = writer.WriteField("language", opts.Language)
	}
	if opts.Temperature != 0 {
		_ = writer.WriteField("temperature", fmt.Sprintf("%g", opts.Temperature))
	}
	if opts.Prompt != "" {
		_ = writer.WriteField("prompt", opts.Prompt)
	}

	contentType := writer.FormDataContentType()
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/audio/transcriptions", bytes.NewReader(requestBody.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp openaiTranscription
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &BackendError{Provider: "openai", Message: "failed to parse transcription response", Err: err}
	}

	result := tasks.NewTranscriptionResult("", model)
	result.Language = resp.Language
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

	logging.Sugar.Infow("OpenAI transcription completed",
		"model", model,
		"language", result.Language,
		"word_count", result.WordCount,
		"segments", len(result.Segments),
	)

	return result, nil
}

// ListModels returns the provider's whisper models
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var list openaiModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &BackendError{Provider: "openai", Message: "failed to parse model list", Err: err}
	}

	var models []string
	for _, m := range list.Data {
		if len(m.ID) >= 8 && m.ID[:8] == "whisper-" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

// TestConnection implements the Client interface
func (c *OpenAIClient) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// doWithRetry issues the request, retrying network failures and 5xx
// responses with a linear backoff. 4xx responses are terminal.
func (c *OpenAIClient) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := retryBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &BackendError{Provider: "openai", Message: "request failed", Err: err}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &BackendError{Provider: "openai", Message: "failed to read response", Err: readErr}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			logging.Sugar.Debugw("OpenAI request succeeded",
				"url", req.URL.Path,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return body, nil
		}

		lastErr = &BackendError{Provider: "openai", Status: resp.StatusCode, Message: string(body)}
		if resp.StatusCode < http.StatusInternalServerError {
			break
		}
	}

	return nil, lastErr
}
