package policy

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/tools"
)

const (
	ToolName        = "policy_search"
	ToolDescription = "Search the refund and dispute policy. Input is a free-text question or the recent conversation; output is up to three policy excerpts with their source path and tags."
)

var _ tools.Tool = (*Tool)(nil)

// Tool exposes a Searcher as a langchaingo tool.
type Tool struct {
	searcher Searcher
}

func NewTool(searcher Searcher) *Tool {
	return &Tool{searcher: searcher}
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Description() string {
	return ToolDescription
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	excerpts, err := t.searcher.Search(ctx, input)
	if err != nil {
		return "", fmt.Errorf("policy search: %w", err)
	}

	if len(excerpts) == 0 {
		return "No matching policy found.", nil
	}

	return Format(excerpts), nil
}
