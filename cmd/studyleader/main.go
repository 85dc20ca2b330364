// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command studyleader runs the study session HTTP service.
//
// # Usage
//
//	# Serve with defaults and environment overrides
//	OPENAI_API_KEY=sk-... PROJECT_URL=https://study.example.com studyleader serve
//
//	# Serve with a YAML file
//	studyleader serve --config studyleader.yaml
//
//	# Print the effective configuration (API key redacted)
//	studyleader config --config studyleader.yaml
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
