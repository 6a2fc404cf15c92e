package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"negotiator/app/service/negotiation"
)

// NDJSON mirrors terminal records into an append-only file, one JSON object per line.
type NDJSON struct {
	path string
	mu   sync.RWMutex
}

func NewNDJSON(path string) (*NDJSON, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}
	_ = file.Close()

	return &NDJSON{path: path}, nil
}

func (n *NDJSON) Append(_ context.Context, record negotiation.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	file, err := os.OpenFile(n.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err = writer.WriteString(string(data) + "\n"); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err = writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	return file.Sync()
}

// ReadAll returns every record in file order.
func (n *NDJSON) ReadAll() ([]negotiation.Record, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	file, err := os.Open(n.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	defer file.Close()

	var records []negotiation.Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record negotiation.Record
		if err = json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}
		records = append(records, record)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading record file: %w", err)
	}

	return records, nil
}
