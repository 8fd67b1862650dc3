package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/modref/internal/cache"
	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/worker"
)

// Options tune the Adapter
type Options struct {
	// BatchSize caps the number of texts per provider request
	BatchSize int

	// Workers is the number of batches in flight at once
	Workers int

	// Limiter throttles provider requests; nil disables rate limiting
	Limiter *worker.Limiter

	// Cache stores provider vectors; nil disables caching
	Cache cache.Cache

	// CacheTTL is passed to the cache on writes
	CacheTTL time.Duration
}

// Adapter wraps a Provider with validation, batching, rate limiting and
// caching. It is safe for concurrent use.
type Adapter struct {
	provider  Provider
	batchSize int
	workers   int
	limiter   *worker.Limiter
	vectors   *cache.VectorCache
}

var _ Embedder = (*Adapter)(nil)

// NewAdapter creates an adapter around provider
func NewAdapter(provider Provider, opts Options) *Adapter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	a := &Adapter{
		provider:  provider,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		limiter:   opts.Limiter,
	}

	// Offline vectors are pure and cheap; only remote providers are cached and throttled
	if IsOffline(provider) {
		a.limiter = nil
	} else if opts.Cache != nil {
		a.vectors = cache.NewVectorCache(opts.Cache, provider.Name()+"/"+provider.ModelName(), provider.Dimensions(), opts.CacheTTL)
	}

	return a
}

// NewOfflineAdapter returns an adapter over the offline provider
func NewOfflineAdapter(dim int) *Adapter {
	return NewAdapter(NewOfflineProvider(dim), Options{})
}

// Provider returns the wrapped provider
func (a *Adapter) Provider() Provider { return a.provider }

// Dimensions returns the vector length
func (a *Adapter) Dimensions() int { return a.provider.Dimensions() }

// ModelName returns the provider's model name
func (a *Adapter) ModelName() string { return a.provider.ModelName() }

// Offline reports whether the adapter uses the offline provider
func (a *Adapter) Offline() bool { return IsOffline(a.provider) }

// Embed embeds a single non-blank text
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts and returns one vector per text, in input order.
// Any blank text fails the whole call with model.ErrValidation.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is blank", model.ErrValidation, i)
		}
	}

	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var missing []int
	for i, t := range texts {
		if a.vectors != nil {
			if v, ok := a.vectors.Get(t); ok {
				out[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		logger.Debug("embed: %d vectors served from cache", len(texts))
		return out, nil
	}

	batches := make([][]int, 0, (len(missing)+a.batchSize-1)/a.batchSize)
	for start := 0; start < len(missing); start += a.batchSize {
		end := min(start+a.batchSize, len(missing))
		batches = append(batches, missing[start:end])
	}

	logger.Debug("embed: %d texts (%d cached) in %d batches via %s", len(texts), len(texts)-len(missing), len(batches), a.provider.Name())

	pool := worker.NewPool[[][]float32](ctx, a.workers)
	pool.Start()
	for _, batch := range batches {
		batchTexts := make([]string, len(batch))
		for j, idx := range batch {
			batchTexts[j] = texts[idx]
		}
		pool.Submit(func(ctx context.Context) ([][]float32, error) {
			return a.embedOne(ctx, batchTexts)
		})
	}

	outcomes := pool.Wait()
	if err := worker.FirstError(outcomes); err != nil {
		return nil, err
	}

	for _, outcome := range outcomes {
		for j, idx := range batches[outcome.Index] {
			out[idx] = outcome.Value[j]
			if a.vectors != nil {
				if err := a.vectors.Put(texts[idx], out[idx]); err != nil {
					logger.Warn("embed: cache write failed: %v", err)
				}
			}
		}
	}

	return out, nil
}

// embedOne issues one provider request and validates its shape
func (a *Adapter) embedOne(ctx context.Context, texts []string) ([][]float32, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.provider.Name()); err != nil {
			return nil, a.wrap(err)
		}
	}

	vecs, err := a.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, a.wrap(err)
	}

	if len(vecs) != len(texts) {
		return nil, a.wrap(fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs)))
	}
	dim := a.provider.Dimensions()
	for i, v := range vecs {
		if len(v) != dim {
			return nil, a.wrap(fmt.Errorf("%w: vector %d has %d dimensions, want %d", model.ErrDimensionMismatch, i, len(v), dim))
		}
	}
	return vecs, nil
}

func (a *Adapter) wrap(err error) error {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &model.ProviderError{Provider: a.provider.Name(), Op: "embed", Err: err}
}
