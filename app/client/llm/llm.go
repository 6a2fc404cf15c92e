// Package llm is the language generation collaborator used by the negotiation nodes.
package llm

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyResponse = errors.New("empty completion")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks the backend for a single JSON object
	JSON bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// CleanJSON strips markdown fences some models wrap JSON answers in.
func CleanJSON(result string) string {
	result = strings.TrimSpace(result)
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	return strings.TrimSpace(result)
}
