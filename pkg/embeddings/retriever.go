package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrAllStrategiesExhausted is returned by Retriever.Embed only when every
// configured strategy has failed.
var ErrAllStrategiesExhausted = errors.New("all embedding strategies exhausted")

// Retriever obtains an embedding by trying an ordered list of strategies.
// First success wins; each strategy's failure is logged and swallowed except
// the last, which is wrapped in ErrAllStrategiesExhausted.
//
// Retrievers are stateless: construct fresh per call or share freely.
type Retriever struct {
	strategies []Embedder
	logger     *zap.Logger
}

// NewRetriever creates a retriever over the given ordered strategies.
func NewRetriever(logger *zap.Logger, strategies ...Embedder) *Retriever {
	return &Retriever{
		strategies: strategies,
		logger:     logger,
	}
}

// Embed tries each strategy in order and returns the first successful vector.
func (r *Retriever) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(r.strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies configured", ErrAllStrategiesExhausted)
	}

	var lastErr error
	for _, strategy := range r.strategies {
		vector, err := strategy.Embed(ctx, text)
		if err == nil {
			return vector, nil
		}

		lastErr = err
		r.logger.Warn("embedding strategy failed",
			zap.String("strategy", strategy.Name()),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("%w: %w", ErrAllStrategiesExhausted, lastErr)
}

// Name identifies the retriever when it is used as a strategy itself.
func (r *Retriever) Name() string {
	return "chain"
}

// Close closes every strategy.
func (r *Retriever) Close() error {
	var errs []error
	for _, strategy := range r.strategies {
		if err := strategy.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
