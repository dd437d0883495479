package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds retries of transient model and vector store failures.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	return errors.Is(err, embedding.ErrEmbeddingUnavailable) || errors.Is(err, vector.ErrIndexUnavailable)
}

// retry runs fn once, or up to MaxAttempts times with exponential backoff when a
// policy is set and fn fails transiently.
func (idx *Indexer) retry(ctx context.Context, fn func(context.Context) error) error {
	if idx.retryPolicy.MaxAttempts <= 1 {
		return fn(ctx)
	}
	base := idx.retryPolicy.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(idx.retryPolicy.MaxAttempts-1), retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
