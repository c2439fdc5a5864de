package jobs

import (
	"context"
	"time"

	"threadlens/internal/logging"
	"threadlens/internal/model"
)

// FeedSource is the subset of the app the refresh loop needs.
type FeedSource interface {
	GetFeedThreads(ctx context.Context, host, credential, feedID string, limit int) ([]model.Thread, error)
	PrimeEmojiCache(ctx context.Context, instanceHost string) error
}

// FeedTarget names the feed to refresh.
type FeedTarget struct {
	Host       string
	Credential string
	FeedID     string
	Limit      int
}

// RefreshFeedOnce primes the emoji cache, rebuilds the feed's threads and hands them to sink.
// An emoji failure is logged and does not stop the refresh.
func RefreshFeedOnce(ctx context.Context, src FeedSource, target FeedTarget, sink func([]model.Thread)) error {
	start := time.Now()
	if err := src.PrimeEmojiCache(ctx, target.Host); err != nil {
		logging.Warn("feed_refresh_emoji_skipped", map[string]any{"host": target.Host, "error": err})
	}
	threads, err := src.GetFeedThreads(ctx, target.Host, target.Credential, target.FeedID, target.Limit)
	if err != nil {
		return err
	}
	if sink != nil {
		sink(threads)
	}
	logging.Info("feed_refresh", map[string]any{
		"feed":    target.FeedID,
		"threads": len(threads),
		"took_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// RunFeedLoop runs RefreshFeedOnce on a ticker until ctx is cancelled.
// Failed refreshes are logged and the previous sink output stays current.
func RunFeedLoop(ctx context.Context, src FeedSource, target FeedTarget, interval time.Duration, sink func([]model.Thread)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	// run immediately
	if err := RefreshFeedOnce(ctx, src, target, sink); err != nil {
		logging.Error("feed_refresh_error", map[string]any{"error": err.Error()})
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info("feed_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			if err := RefreshFeedOnce(ctx, src, target, sink); err != nil {
				logging.Error("feed_refresh_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
