// Package graph implements the entity & knowledge-graph layer (C6):
// regex-heuristic entity extraction, community detection over the
// memory_edges graph, and extractive/LLM community summarization.
package graph

import (
	"regexp"
	"strings"
)

// EntityKind mirrors the entity "type" column in internal/store.
type EntityKind string

const (
	EntityFunction EntityKind = "function"
	EntityClass    EntityKind = "class"
	EntityFile     EntityKind = "file"
	EntityError    EntityKind = "error"
)

// ExtractedEntity is one heuristically-found symbol plus the snippet of
// content it was found in, ready for store.UpsertEntity/InsertRef.
type ExtractedEntity struct {
	Type            EntityKind
	Name            string
	ContextSnippet  string
}

var (
	filePathPattern   = regexp.MustCompile(`(?:^|\s)([a-zA-Z_][a-zA-Z0-9_/./-]*\.(?:py|go|js|ts|tsx|rs|java|rb|cpp|c|h))(?:\s|$|:)`)
	errorTypePattern  = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9_]*(?:Error|Exception|Warning))\b`)
	classPattern      = regexp.MustCompile(`\bclass\s+([A-Z][a-zA-Z0-9_]*)`)
	functionCallPattern = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\s*\(`)
	methodCallPattern   = regexp.MustCompile(`\.([a-z_][a-z0-9_]*)\s*\(`)
	capitalizedPattern  = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9_]{2,})\b`)
)

// commonWords are identifiers too generic to be useful graph entities,
// trimmed to the subset relevant to short memory text.
var commonWords = map[string]bool{
	"the": true, "and": true, "for": true, "use": true, "with": true,
	"this": true, "that": true, "from": true, "call": true, "then": true,
	"get": true, "set": true, "new": true, "not": true, "are": true,
}

func isCommonWord(s string) bool {
	return commonWords[strings.ToLower(s)]
}

// ExtractEntities finds function, class, file, and error-type mentions in
// free-text memory content. It never returns duplicates for the same
// (type, name) pair within one call.
func ExtractEntities(content string) []ExtractedEntity {
	seen := make(map[string]bool)
	var out []ExtractedEntity

	add := func(kind EntityKind, name string) {
		key := string(kind) + ":" + name
		if seen[key] || isCommonWord(name) {
			return
		}
		seen[key] = true
		out = append(out, ExtractedEntity{Type: kind, Name: name, ContextSnippet: snippetAround(content, name)})
	}

	for _, m := range filePathPattern.FindAllStringSubmatch(content, -1) {
		add(EntityFile, m[1])
	}
	for _, m := range errorTypePattern.FindAllStringSubmatch(content, -1) {
		add(EntityError, m[1])
	}
	for _, m := range classPattern.FindAllStringSubmatch(content, -1) {
		add(EntityClass, m[1])
	}
	// Bare capitalized identifiers read as classes too (UserService, not
	// just "class UserService") -- the common shape in short memory text
	// that never spells out "class".
	for _, m := range capitalizedPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if strings.HasSuffix(name, "Error") || strings.HasSuffix(name, "Exception") || strings.HasSuffix(name, "Warning") {
			continue
		}
		add(EntityClass, name)
	}
	for _, m := range functionCallPattern.FindAllStringSubmatch(content, -1) {
		if len(m[1]) > 2 {
			add(EntityFunction, m[1])
		}
	}
	for _, m := range methodCallPattern.FindAllStringSubmatch(content, -1) {
		if len(m[1]) > 2 {
			add(EntityFunction, m[1])
		}
	}
	return out
}

func snippetAround(content, needle string) string {
	idx := strings.Index(content, needle)
	if idx < 0 {
		return ""
	}
	start := idx - 20
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + 20
	if end > len(content) {
		end = len(content)
	}
	return "..." + content[start:end] + "..."
}
