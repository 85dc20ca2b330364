// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied identifiers before they reach a
// remote API.
//
// Assistant and thread IDs arrive in request paths and are placed into
// the remote service's URL paths. Restricting them to a plain token
// alphabet keeps a caller from steering a request to a different remote
// resource (path traversal, query injection).
package validation

import (
	"fmt"
	"regexp"
)

// remoteIDPattern matches identifiers like "asst_abc123" or "thread_X-9".
// Max length: 128 characters
var remoteIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)

// ValidateRemoteID validates an assistant, thread or run ID.
//
// Valid IDs:
//   - 1-128 characters
//   - Letters, digits, underscores and hyphens
//   - Starting with a letter or digit
//
// Example:
//
//	if err := validation.ValidateRemoteID(threadID); err != nil {
//	    return fmt.Errorf("invalid thread: %w", err)
//	}
func ValidateRemoteID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !remoteIDPattern.MatchString(id) {
		return fmt.Errorf("invalid id format: %q (must be 1-128 letters, digits, underscores or hyphens)", id)
	}
	return nil
}

// ValidateRemoteIDs validates several IDs and reports every invalid one.
func ValidateRemoteIDs(ids ...string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateRemoteID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid ids: %q", invalid)
	}
	return nil
}
