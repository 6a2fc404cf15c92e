// Package policy looks up refund policy excerpts in a vector store.
package policy

import (
	"context"
	"fmt"
	"strings"
)

type Excerpt struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Tags   string  `json:"tags"`
	Score  float32 `json:"score"`
}

// Searcher returns at most k excerpts ranked best first. Relevance is best-effort.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Excerpt, error)
}

// Format renders excerpts as grounding text for prompts and tool output.
func Format(excerpts []Excerpt) string {
	parts := make([]string, 0, len(excerpts))
	for _, e := range excerpts {
		parts = append(parts, fmt.Sprintf("--- [source: %s] ---\n%s\ntags: %s", e.Source, strings.TrimSpace(e.Text), e.Tags))
	}

	return strings.Join(parts, "\n\n")
}
