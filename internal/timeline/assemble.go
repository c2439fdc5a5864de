package timeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"threadlens/internal/misskey"
	"threadlens/internal/model"
)

// DefaultWindow is the number of notes fetched on each side of the anchor.
const DefaultWindow = 10

// Assembler builds context windows around an anchor note.
type Assembler struct {
	api    misskey.API
	window int
}

func NewAssembler(api misskey.API, window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{api: api, window: window}
}

// GetContextTimeline returns the anchor plus up to window older and window
// newer notes from scope's public timeline, newest first. The two neighbor
// fetches run in parallel once the anchor is known. Any failure fails the call.
func (a *Assembler) GetContextTimeline(ctx context.Context, anchorID string, scope model.Scope) (model.TimelineWindow, error) {
	anchor, err := a.api.ShowNote(ctx, anchorID)
	if err != nil {
		return nil, err
	}

	var older, newer []model.Note
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	g.Go(func() error {
		notes, err := a.api.Timeline(gctx, scope, misskey.TimelineQuery{Limit: a.window, UntilID: anchorID})
		older = truncate(notes, a.window)
		return err
	})
	g.Go(func() error {
		notes, err := a.api.Timeline(gctx, scope, misskey.TimelineQuery{Limit: a.window, SinceID: anchorID})
		newer = truncate(notes, a.window)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(older, []model.Note{anchor}, newer), nil
}

func truncate(notes []model.Note, n int) []model.Note {
	if len(notes) > n {
		return notes[:n]
	}
	return notes
}
