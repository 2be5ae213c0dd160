package graph

import (
	"context"
	"fmt"
	"strings"
)

// MemberMemory is the subset of a store.Memory the summarizer consumes.
type MemberMemory struct {
	ID       string
	Category string
	Content  string
}

// LLMFunc is an optional caller-supplied summarizer; when nil or when it
// errors, Summarize falls back to the extractive path.
type LLMFunc func(ctx context.Context, prompt string) (string, error)

// SummaryConfig tunes community summarization.
type SummaryConfig struct {
	MaxSummaryLength int
	IncludeStats     bool
	IncludeCategories bool
}

// DefaultSummaryConfig mirrors the original extractive summarizer's
// defaults.
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{MaxSummaryLength: 500, IncludeStats: true, IncludeCategories: true}
}

// Summarize produces a community summary, using llm if provided and it
// succeeds, otherwise the deterministic extractive path.
func Summarize(ctx context.Context, cfg SummaryConfig, communityName string, members []MemberMemory, keyEntities []string, llm LLMFunc) string {
	if len(members) == 0 {
		return fmt.Sprintf("Empty community: %s", communityName)
	}
	if llm != nil {
		if summary, err := llmSummarize(ctx, cfg, communityName, members, keyEntities, llm); err == nil {
			return summary
		}
	}
	return extractiveSummarize(cfg, communityName, members, keyEntities)
}

// extractiveSummarize concatenates key facts from members with no model
// call -- the default, dependency-free path. Mirrors the anti-hallucination
// stance of the original: it states only what the rows already say.
func extractiveSummarize(cfg SummaryConfig, communityName string, members []MemberMemory, keyEntities []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Community: %s\n", communityName)

	if cfg.IncludeStats {
		fmt.Fprintf(&b, "Contains %d memories.\n", len(members))
	}
	if len(keyEntities) > 0 {
		n := len(keyEntities)
		if n > 5 {
			n = 5
		}
		fmt.Fprintf(&b, "Key entities: %s\n", strings.Join(keyEntities[:n], ", "))
	}

	if cfg.IncludeCategories {
		byCategory := make(map[string][]string)
		var order []string
		for _, m := range members {
			cat := m.Category
			if cat == "" {
				cat = "other"
			}
			if _, ok := byCategory[cat]; !ok {
				order = append(order, cat)
			}
			content := m.Content
			if len(content) > 150 {
				content = content[:147] + "..."
			}
			byCategory[cat] = append(byCategory[cat], content)
		}
		for _, cat := range order {
			contents := byCategory[cat]
			fmt.Fprintf(&b, "\n%s (%d):\n", strings.Title(cat), len(contents))
			shown := contents
			if len(shown) > 3 {
				shown = shown[:3]
			}
			for _, c := range shown {
				fmt.Fprintf(&b, "  - %s\n", c)
			}
			if len(contents) > 3 {
				fmt.Fprintf(&b, "  ... and %d more\n", len(contents)-3)
			}
		}
	}

	summary := strings.TrimRight(b.String(), "\n")
	if len(summary) > cfg.MaxSummaryLength {
		summary = summary[:cfg.MaxSummaryLength-3] + "..."
	}
	return summary
}

func llmSummarize(ctx context.Context, cfg SummaryConfig, communityName string, members []MemberMemory, keyEntities []string, llm LLMFunc) (string, error) {
	var context_ strings.Builder
	const maxContentLen = 4000
	total := 0
	for _, m := range members {
		entry := fmt.Sprintf("[%s:%s] %s\n", m.Category, m.ID, m.Content)
		if total+len(entry) > maxContentLen {
			break
		}
		context_.WriteString(entry)
		total += len(entry)
	}

	entityHint := ""
	if len(keyEntities) > 0 {
		n := len(keyEntities)
		if n > 5 {
			n = 5
		}
		entityHint = fmt.Sprintf("\nKey entities in this community: %s", strings.Join(keyEntities[:n], ", "))
	}

	prompt := fmt.Sprintf(`Summarize the following memories that form a community called %q.
%s

IMPORTANT: Only include information that is explicitly stated in the memories below.
Do NOT add information that isn't present.
Do NOT make inferences beyond what is directly stated.

Memories:
%s

Write a concise summary (2-4 sentences) covering:
1. The main topics or decisions in this community
2. Any patterns or recurring themes
3. Key outcomes if mentioned

Summary:`, communityName, entityHint, context_.String())

	summary, err := llm(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
