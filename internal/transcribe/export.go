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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxscribe/voxscribe-hub/internal/logging"
	"github.com/voxscribe/voxscribe-hub/internal/security"
	"github.com/voxscribe/voxscribe-hub/internal/tasks"
)

// Export formats
const (
	FormatTXT  = "txt"
	FormatJSON = "json"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
)

// Export renders the task's transcription result in the given format and
// writes it to the export directory, returning the output path.
func (o *Orchestrator) Export(taskID, format string) (string, error) {
	if err := security.ValidateTaskID(taskID); err != nil {
		return "", err
	}

	result, err := o.GetTranscriptionResult(taskID)
	if err != nil {
		return "", err
	}

	content, ext, err := Render(result, format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.cfg.ExportDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	fileName := fmt.Sprintf("transcription_%s_%d.%s", taskID, time.Now().UnixMilli(), ext)
	path := filepath.Join(o.cfg.ExportDir, fileName)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	logging.LogExport(taskID, format, zap.String("path", path))
	return path, nil
}

// Render converts a result to the given format and returns the content and
// the file extension to use for it
func Render(result *tasks.TranscriptionResult, format string) (string, string, error) {
	switch strings.ToLower(format) {
	case FormatTXT:
		return RenderTXT(result), FormatTXT, nil
	case FormatJSON:
		content, err := RenderJSON(result)
		if err != nil {
			return "", "", err
		}
		return content, FormatJSON, nil
	case FormatSRT:
		return RenderSRT(result), FormatSRT, nil
	case FormatVTT:
		return RenderVTT(result), FormatVTT, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// RenderTXT returns the raw transcription text
func RenderTXT(result *tasks.TranscriptionResult) string {
	return result.Text
}

// RenderJSON returns the full result as indented JSON
func RenderJSON(result *tasks.TranscriptionResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

// RenderSRT renders SubRip subtitles. Results without segment timing get a
// single cue spanning from zero.
func RenderSRT(result *tasks.TranscriptionResult) string {
	var b strings.Builder
	for i, segment := range exportSegments(result) {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTime(segment.Start), formatSRTTime(segment.End))
		b.WriteString(strings.TrimSpace(segment.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// RenderVTT renders WebVTT subtitles
func RenderVTT(result *tasks.TranscriptionResult) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, segment := range exportSegments(result) {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatVTTTime(segment.Start), formatVTTTime(segment.End))
		b.WriteString(strings.TrimSpace(segment.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// exportSegments falls back to a single full-text cue when the backend
// returned no segment timing
func exportSegments(result *tasks.TranscriptionResult) []tasks.TranscriptionSegment {
	if len(result.Segments) > 0 {
		return result.Segments
	}
	if result.Text == "" {
		return nil
	}
	return []tasks.TranscriptionSegment{{Start: 0, End: 0, Text: result.Text}}
}

// formatSRTTime renders seconds as HH:MM:SS,mmm
func formatSRTTime(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// formatVTTTime renders seconds as HH:MM:SS.mmm
func formatVTTTime(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitTimestamp(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	total := int(math.Round(seconds * 1000))
	ms = total % 1000
	total /= 1000
	s = total % 60
	total /= 60
	m = total % 60
	h = total / 60
	return h, m, s, ms
}
