// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query builds the search-side form of a user question: an optional
// history-aware rewrite followed by conservative normalization. The
// normalized form feeds cache keys and vector retrieval; answer generation
// always sees the question exactly as the user typed it.
package query

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRE = regexp.MustCompile(`\s+`)
	quotesRE     = regexp.MustCompile("[\"'`“”‘’]+")
)

// domainCanonRules unify the Spring product spellings users mix freely.
// Characters that carry meaning in URLs, FQCNs, paths, and versions
// (., :, /, -, _) are deliberately left untouched. Rules run on lowercased
// input.
var domainCanonRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\bspring\s*boot\b`), "spring-boot"},
	{regexp.MustCompile(`\bspringboot\b`), "spring-boot"},
	{regexp.MustCompile(`\bspring\s*security\b`), "spring-security"},
	{regexp.MustCompile(`\bspringsecurity\b`), "spring-security"},
	{regexp.MustCompile(`\bspring\s*data\b`), "spring-data"},
	{regexp.MustCompile(`\bspring\s*framework\b`), "spring-framework"},
}

// Normalize produces the conservative canonical form of a query: NFKC,
// lowercase, Spring product name unification, quote and backtick removal,
// whitespace collapsing. The goal is a modest cache hit-rate lift without
// corrupting meaning, so anything beyond quotes is preserved. Empty input
// yields an empty string.
func Normalize(text string) string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ""
	}

	out := norm.NFKC.String(raw)
	out = strings.ToLower(out)
	for _, rule := range domainCanonRules {
		out = rule.pattern.ReplaceAllString(out, rule.replacement)
	}
	out = quotesRE.ReplaceAllString(out, " ")
	out = multiSpaceRE.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
