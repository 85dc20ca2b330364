// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sanitize escapes user-supplied text before it is embedded in
// assistant instructions.
package sanitize

import "strings"

// replacer holds the fixed escape table. strings.Replacer scans left to
// right and never re-examines replacement text.
var replacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// String returns s with the HTML-significant characters & < > " ' /
// replaced by their character references.
//
// # Description
//
// Single pass, no recursive re-escaping: an existing "&lt;" in the input
// becomes "&amp;lt;". Empty input yields empty output.
//
// # Thread Safety
//
// Safe for concurrent use.
func String(s string) string {
	return replacer.Replace(s)
}
