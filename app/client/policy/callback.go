package policy

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/schema"
)

var _ callbacks.Handler = (*LogCallbackHandler)(nil)

type LogCallbackHandler struct {
	callbacks.SimpleHandler
}

func (l LogCallbackHandler) HandleRetrieverStart(ctx context.Context, query string) {
	slog.DebugContext(ctx, "Policy lookup start", "query", query)
}

func (l LogCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	sources := make([]string, 0, len(documents))
	for _, doc := range documents {
		sources = append(sources, metaString(doc.Metadata, MetaSource))
	}

	slog.DebugContext(ctx, "Policy lookup end",
		"query", query,
		"document_count", len(documents),
		"sources", sources,
	)
}

func (l LogCallbackHandler) HandleToolError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Tool error", "error", err)
}
