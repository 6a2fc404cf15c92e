package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"negotiator/app/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/chroma"
)

const (
	MetaSource = "path"
	MetaTags   = "tags"

	maxSearchDuration = 20 * time.Second
)

// Chroma searches the policy collection through langchaingo.
type Chroma struct {
	store     vectorstores.VectorStore
	retriever vectorstores.Retriever
	topK      int
}

func NewChroma(cfg *config.Config) (*Chroma, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.LLM.OpenAI.Token),
		openai.WithEmbeddingModel(cfg.Retrieval.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := chroma.New(
		chroma.WithChromaURL(cfg.Retrieval.ChromaURL),
		chroma.WithEmbedder(embedder),
		chroma.WithNameSpace(cfg.Retrieval.Collection),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chroma: %w", err)
	}

	return NewFromStore(store, cfg.Retrieval.TopK), nil
}

// NewFromStore wraps any langchaingo vector store.
func NewFromStore(store vectorstores.VectorStore, topK int) *Chroma {
	retriever := vectorstores.ToRetriever(store, topK)
	retriever.CallbacksHandler = LogCallbackHandler{}

	return &Chroma{
		store:     store,
		retriever: retriever,
		topK:      topK,
	}
}

func (c *Chroma) Search(ctx context.Context, query string) ([]Excerpt, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, maxSearchDuration)
	defer cancel()

	docs, err := c.retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	if len(docs) > c.topK {
		docs = docs[:c.topK]
	}

	result := make([]Excerpt, 0, len(docs))
	for _, doc := range docs {
		result = append(result, toExcerpt(doc))
	}

	return result, nil
}

// AddDocuments stores chunks in the collection.
func (c *Chroma) AddDocuments(ctx context.Context, docs []schema.Document) error {
	if _, err := c.store.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	return nil
}

func toExcerpt(doc schema.Document) Excerpt {
	return Excerpt{
		Text:   doc.PageContent,
		Source: metaString(doc.Metadata, MetaSource),
		Tags:   metaString(doc.Metadata, MetaTags),
		Score:  doc.Score,
	}
}

func metaString(meta map[string]any, key string) string {
	value, ok := meta[key]
	if !ok || value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}
