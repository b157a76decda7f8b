// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"
)

// BuildDocument renders the text that actually gets embedded: the chunk
// content prefixed with its project, heading, and path so structurally
// similar chunks from different documents stay separable in vector space.
// The query side embeds plain text; the asymmetry is intentional and
// matched by the RETRIEVAL_DOCUMENT / RETRIEVAL_QUERY task types.
func BuildDocument(content string, metadata map[string]any) string {
	return fmt.Sprintf("[project] %s\n[heading] %s\n[path] %s\n\n%s",
		metadataString(metadata, "project"),
		metadataString(metadata, "heading"),
		metadataString(metadata, "path"),
		strings.TrimSpace(content),
	)
}

func metadataString(metadata map[string]any, field string) string {
	if v, ok := metadata[field].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
