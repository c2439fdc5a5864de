package thread

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"threadlens/internal/errors"
	"threadlens/internal/logging"
	"threadlens/internal/misskey"
	"threadlens/internal/model"
)

const (
	// DefaultFeedConcurrency bounds per-note conversation fetches for a feed.
	DefaultFeedConcurrency = 5
	// DefaultListingLimit is the page size for conversation and children listings.
	DefaultListingLimit = 100
)

// Options configure a Reconstructor.
type Options struct {
	IncludeChildren bool
	ListingLimit    int
	FeedConcurrency int
}

func DefaultOptions() Options {
	return Options{IncludeChildren: true, ListingLimit: DefaultListingLimit, FeedConcurrency: DefaultFeedConcurrency}
}

// Reconstructor turns backend conversation listings into Threads.
type Reconstructor struct {
	api  misskey.API
	opts Options
}

func NewReconstructor(api misskey.API, opts Options) *Reconstructor {
	if opts.ListingLimit <= 0 {
		opts.ListingLimit = DefaultListingLimit
	}
	if opts.FeedConcurrency <= 0 {
		opts.FeedConcurrency = DefaultFeedConcurrency
	}
	return &Reconstructor{api: api, opts: opts}
}

// GetConversationThread fetches rootID and its conversation concurrently and
// classifies the listing. Any failed fetch fails the whole call; a root that
// does not exist is reported as *errors.NotFoundError whichever fetch fails first.
func (r *Reconstructor) GetConversationThread(ctx context.Context, rootID string) (model.Thread, error) {
	var (
		root    model.Note
		rootErr error
		listing []model.Note
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		root, rootErr = r.api.ShowNote(gctx, rootID)
		return rootErr
	})
	g.Go(func() error {
		l, err := r.listing(gctx, rootID)
		listing = l
		return err
	})
	err := g.Wait()
	if err == nil {
		return Build(root, listing), nil
	}
	if errors.Is(rootErr, errors.ErrNotFound) {
		return model.Thread{}, rootErr
	}
	return model.Thread{}, err
}

// FromRoot builds the thread for an already fetched root.
func (r *Reconstructor) FromRoot(ctx context.Context, root model.Note) (model.Thread, error) {
	listing, err := r.listing(ctx, root.ID)
	if err != nil {
		return model.Thread{}, err
	}
	return Build(root, listing), nil
}

// listing returns the conversation, followed by direct replies when enabled.
// Quotes among the children do not reply to noteID and are dropped.
func (r *Reconstructor) listing(ctx context.Context, noteID string) ([]model.Note, error) {
	if !r.opts.IncludeChildren {
		return r.api.Conversation(ctx, noteID, r.opts.ListingLimit)
	}
	var conv, children []model.Note
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conv, err = r.api.Conversation(gctx, noteID, r.opts.ListingLimit)
		return err
	})
	g.Go(func() error {
		var err error
		children, err = r.api.Children(gctx, noteID, r.opts.ListingLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.RepliesTo(noteID) {
			conv = append(conv, c)
		}
	}
	return conv, nil
}

// FeedThreads reconstructs a thread for each note of an antenna feed, in feed order.
func (r *Reconstructor) FeedThreads(ctx context.Context, feedID string, limit int) ([]model.Thread, error) {
	start := time.Now()
	notes, err := r.api.AntennaNotes(ctx, feedID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Thread, len(notes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FeedConcurrency)
	for i, n := range notes {
		i, n := i, n
		g.Go(func() error {
			t, err := r.FromRoot(gctx, n)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.Debug("feed_threads_built", map[string]any{
		"feed":    feedID,
		"threads": len(out),
		"took_ms": time.Since(start).Milliseconds(),
	})
	return out, nil
}
