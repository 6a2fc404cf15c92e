// Package ingest loads policy documents, splits them into chunks and indexes them for retrieval.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"negotiator/app/client/policy"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/do"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 800
	chunkOverlap = 100

	MetaChunk = "chunk"
)

var supportedExt = map[string]bool{
	".md":   true,
	".txt":  true,
	".html": true,
	".htm":  true,
}

type DocumentAdder interface {
	AddDocuments(ctx context.Context, docs []schema.Document) error
}

type Stats struct {
	Files   int
	Chunks  int
	Skipped int
}

type Service struct {
	adder    DocumentAdder
	splitter textsplitter.TextSplitter
}

func New(di *do.Injector) (*Service, error) {
	chroma, err := do.Invoke[*policy.Chroma](di)
	if err != nil {
		return nil, fmt.Errorf("policy store unavailable: %w", err)
	}

	return NewWithAdder(chroma), nil
}

func NewWithAdder(adder DocumentAdder) *Service {
	return &Service{
		adder: adder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// IngestDir indexes every supported file below root.
func (s *Service) IngestDir(ctx context.Context, root string) (Stats, error) {
	var stats Stats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !supportedExt[strings.ToLower(filepath.Ext(path))] {
			stats.Skipped++
			return nil
		}

		docs, err := s.LoadFile(root, path)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			stats.Skipped++
			return nil
		}

		if err = s.adder.AddDocuments(ctx, docs); err != nil {
			return fmt.Errorf("failed to index %s: %w", path, err)
		}

		stats.Files++
		stats.Chunks += len(docs)

		slog.Info("Indexed policy file", "path", path, "chunks", len(docs))
		return nil
	})
	if err != nil {
		return stats, err
	}

	return stats, nil
}

// LoadFile reads one file and returns its chunks with path and tags metadata.
func (s *Service) LoadFile(root, path string) ([]schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	text := string(data)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		if text, err = htmlText(text); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	tags, body := splitTags(text)
	if tags == "" {
		tags = dirTags(rel)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	chunks, err := s.splitter.SplitText(body)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", path, err)
	}

	docs := make([]schema.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, schema.Document{
			PageContent: chunk,
			Metadata: map[string]any{
				policy.MetaSource: rel,
				policy.MetaTags:   tags,
				MetaChunk:         i,
			},
		})
	}

	return docs, nil
}

func htmlText(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript").Remove()

	lines := strings.Split(doc.Find("body").Text(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n"), nil
}

// splitTags strips a leading "tags: a, b" line.
func splitTags(text string) (string, string) {
	first, rest, _ := strings.Cut(strings.TrimLeft(text, "\ufeff \t\r\n"), "\n")

	label, value, ok := strings.Cut(first, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(label), "tags") {
		return "", text
	}

	var tags []string
	for _, tag := range strings.Split(value, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, strings.ToLower(tag))
		}
	}

	return strings.Join(tags, ","), rest
}

func dirTags(rel string) string {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." || dir == "" {
		return ""
	}

	return strings.ToLower(strings.ReplaceAll(dir, "/", ","))
}
