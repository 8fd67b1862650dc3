package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/modref/internal/model"
)

// Asker answers a single moderator query
type Asker interface {
	Ask(ctx context.Context, query string) (*model.Report, error)
}

// QueryResult is the outcome of one query in a batch
type QueryResult struct {
	Query  string
	Report *model.Report
	Error  error
}

// GetError returns the error from the query result
func (r *QueryResult) GetError() error {
	return r.Error
}

// BatchProcessor runs multiple queries concurrently
type BatchProcessor struct {
	asker       Asker
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(asker Asker, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		asker:       asker,
		concurrency: concurrency,
	}
}

// ProcessQueries runs queries concurrently; results keep the input order
func (b *BatchProcessor) ProcessQueries(ctx context.Context, queries []string) []*QueryResult {
	if len(queries) == 0 {
		return []*QueryResult{}
	}

	pool := NewPool[*model.Report](ctx, b.concurrency)
	pool.Start()

	for _, q := range queries {
		query := q
		pool.Submit(func(ctx context.Context) (*model.Report, error) {
			return b.asker.Ask(ctx, query)
		})
	}

	outcomes := pool.Wait()

	results := make([]*QueryResult, len(outcomes))
	for i, out := range outcomes {
		results[i] = &QueryResult{
			Query:  queries[out.Index],
			Report: out.Value,
			Error:  out.Err,
		}
		if out.Err != nil {
			results[i].Report = nil
		}
	}

	return results
}

// ProcessFile reads queries from a file and runs them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*QueryResult, error) {
	queries, err := ReadQueriesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}

	return b.ProcessQueries(ctx, queries), nil
}

// ReadQueriesFromFile reads queries from a file, one per line. Blank lines
// and lines starting with # are skipped; duplicates are dropped.
func ReadQueriesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var queries []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			queries = append(queries, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return queries, nil
}
