package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threadlens/internal/config"
	"threadlens/internal/emoji"
	"threadlens/internal/logging"
	"threadlens/internal/metrics"
	"threadlens/internal/misskey"
	"threadlens/internal/model"
	"threadlens/internal/thread"
	"threadlens/internal/timeline"
	"threadlens/internal/util"
)

// ClientFactory returns a backend client for one instance and credential.
type ClientFactory func(host, credential string) misskey.API

// NewClientFactory builds HTTP clients with the configured transport policy.
func NewClientFactory(cfg config.BackendConfig) ClientFactory {
	opts := misskey.Options{
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		RPS:         cfg.RPS,
		Burst:       cfg.Burst,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: time.Duration(cfg.BaseBackoffMS) * time.Millisecond,
	}
	return func(host, credential string) misskey.API {
		return misskey.NewHTTPClient(host, credential, opts)
	}
}

// App is the caller-facing entry point. It owns the process-wide emoji cache.
type App struct {
	cfg       config.Config
	newClient ClientFactory
	cache     *emoji.Cache
	resolver  *emoji.Resolver
}

func New(cfg config.Config, newClient ClientFactory) *App {
	if newClient == nil {
		newClient = NewClientFactory(cfg.Backend)
	}
	cache := emoji.NewCacheWithHosts(cfg.Emoji.Capacity, cfg.Emoji.MaxHosts)
	return &App{
		cfg:       cfg,
		newClient: newClient,
		cache:     cache,
		resolver:  emoji.NewResolver(cache),
	}
}

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config { return a.cfg }

// EmojiCache exposes the shared cache for inspection.
func (a *App) EmojiCache() *emoji.Cache { return a.cache }

func (a *App) reconstructor(host, credential string) *thread.Reconstructor {
	return thread.NewReconstructor(a.newClient(host, credential), thread.Options{
		IncludeChildren: a.cfg.Thread.IncludeChildren,
		ListingLimit:    a.cfg.Thread.ChildrenLimit,
		FeedConcurrency: a.cfg.Thread.FeedConcurrency,
	})
}

// GetConversationThread reconstructs the conversation around noteID.
func (a *App) GetConversationThread(ctx context.Context, host, credential, noteID string) (th model.Thread, err error) {
	defer observe("thread", time.Now(), &err, map[string]any{"host": host, "note": noteID})
	if strings.TrimSpace(noteID) == "" {
		return model.Thread{}, fmt.Errorf("note id is required")
	}
	return a.reconstructor(host, credential).GetConversationThread(ctx, noteID)
}

// GetContextTimeline returns the window of scope's timeline around anchorID.
func (a *App) GetContextTimeline(ctx context.Context, host, credential, anchorID string, scope model.Scope) (w model.TimelineWindow, err error) {
	defer observe("timeline", time.Now(), &err, map[string]any{"host": host, "note": anchorID, "scope": string(scope)})
	if strings.TrimSpace(anchorID) == "" {
		return nil, fmt.Errorf("note id is required")
	}
	scope, err = model.ParseScope(string(scope))
	if err != nil {
		return nil, err
	}
	return timeline.NewAssembler(a.newClient(host, credential), a.cfg.Timeline.Window).GetContextTimeline(ctx, anchorID, scope)
}

// GetFeedThreads reconstructs one thread per note of the feed, in feed order.
func (a *App) GetFeedThreads(ctx context.Context, host, credential, feedID string, limit int) (ts []model.Thread, err error) {
	defer observe("feed", time.Now(), &err, map[string]any{"host": host, "feed": feedID, "limit": limit})
	if strings.TrimSpace(feedID) == "" {
		return nil, fmt.Errorf("feed id is required")
	}
	if limit <= 0 {
		limit = a.cfg.Feed.Limit
	}
	return a.reconstructor(host, credential).FeedThreads(ctx, feedID, limit)
}

// ResolveEmojiText substitutes short-codes in text. It never fails.
func (a *App) ResolveEmojiText(text, instanceHost string, local map[string]string) string {
	return a.resolver.Resolve(text, instanceHost, local)
}

// PrimeEmojiCache loads instanceHost's emoji catalog unless it is already cached.
// The configured token is used when instanceHost is the configured instance.
func (a *App) PrimeEmojiCache(ctx context.Context, instanceHost string) (err error) {
	defer observe("emoji_prime", time.Now(), &err, map[string]any{"host": instanceHost})
	credential := ""
	if util.NormalizeHost(instanceHost) == util.NormalizeHost(a.cfg.Instance.Host) {
		credential = a.cfg.Instance.Token
	}
	return a.cache.Populate(ctx, instanceHost, a.newClient(instanceHost, credential))
}

// ResetEmojiCache forgets instanceHost's emoji catalog.
func (a *App) ResetEmojiCache(instanceHost string) {
	a.cache.Reset(instanceHost)
}

// RenderThread resolves short-codes in every note of th using each note's own
// emoji table first and the instance cache second.
func (a *App) RenderThread(th model.Thread, instanceHost string) model.Thread {
	out := model.Thread{Root: a.renderNote(th.Root, instanceHost)}
	out.Ancestors = a.renderNotes(th.Ancestors, instanceHost)
	out.Descendants = a.renderNotes(th.Descendants, instanceHost)
	return out
}

// RenderWindow is RenderThread for a timeline window.
func (a *App) RenderWindow(w model.TimelineWindow, instanceHost string) model.TimelineWindow {
	return a.renderNotes(w, instanceHost)
}

func (a *App) renderNotes(notes []model.Note, host string) []model.Note {
	if notes == nil {
		return nil
	}
	out := make([]model.Note, len(notes))
	for i, n := range notes {
		out[i] = a.renderNote(n, host)
	}
	return out
}

func (a *App) renderNote(n model.Note, host string) model.Note {
	if n.Text != nil {
		s := a.ResolveEmojiText(*n.Text, host, n.CustomEmojis)
		n.Text = &s
	}
	if n.ContentWarning != nil {
		s := a.ResolveEmojiText(*n.ContentWarning, host, n.CustomEmojis)
		n.ContentWarning = &s
	}
	return n
}

func observe(op string, start time.Time, errp *error, fields map[string]any) {
	err := *errp
	metrics.ObserveOperation(op, start, err)
	fields["took_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		fields["error"] = err
		logging.Warn(op+"_failed", fields)
		return
	}
	logging.Debug(op+"_ok", fields)
}
