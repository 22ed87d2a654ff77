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

package security

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidTaskID is returned when a task ID format is invalid
	ErrInvalidTaskID = errors.New("invalid task ID")

	// taskIDPattern validates task IDs to only allow safe characters
	taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateTaskID ensures that a task ID contains only safe characters and
// prevents path traversal attacks, since task IDs are used to build
// transcription artifact and export paths on disk. Only allows alphanumeric
// ASCII characters, dashes, and underscores.
func ValidateTaskID(taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}

	// Check for path separators or parent directory references
	if strings.Contains(taskID, "/") || strings.Contains(taskID, "\\") || strings.Contains(taskID, "..") {
		return ErrInvalidTaskID
	}

	if !taskIDPattern.MatchString(taskID) {
		return ErrInvalidTaskID
	}

	return nil
}
