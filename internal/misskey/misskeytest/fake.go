// Package misskeytest provides an in-memory misskey.API for tests.
package misskeytest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"threadlens/internal/errors"
	"threadlens/internal/misskey"
	"threadlens/internal/model"
)

// Fake serves canned notes. Errors set in Errs are returned for the named endpoint.
// Delay is applied to every call while tracking how many calls overlap.
type Fake struct {
	Notes        map[string]model.Note
	Conv         map[string][]model.Note
	Kids         map[string][]model.Note
	Antenna      map[string][]model.Note
	Older        map[string][]model.Note // keyed by untilId
	Newer        map[string][]model.Note // keyed by sinceId
	EmojiList    []model.Emoji
	Errs         map[string]error
	Delay        time.Duration
	OnCall       func(endpoint string)
	mu           sync.Mutex
	calls        map[string]int
	inFlight     int32
	maxInFlight  int32
	LastTimeline misskey.TimelineQuery
	LastScope    model.Scope
}

func New() *Fake {
	return &Fake{
		Notes:   map[string]model.Note{},
		Conv:    map[string][]model.Note{},
		Kids:    map[string][]model.Note{},
		Antenna: map[string][]model.Note{},
		Older:   map[string][]model.Note{},
		Newer:   map[string][]model.Note{},
		Errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

// Calls reports how often endpoint was hit.
func (f *Fake) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// MaxInFlight reports the highest number of overlapping calls observed.
func (f *Fake) MaxInFlight() int { return int(atomic.LoadInt32(&f.maxInFlight)) }

func (f *Fake) enter(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	f.calls[endpoint]++
	err := f.Errs[endpoint]
	f.mu.Unlock()
	if f.OnCall != nil {
		f.OnCall(endpoint)
	}
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
		}
	}
	atomic.AddInt32(&f.inFlight, -1)
	return err
}

func (f *Fake) ShowNote(ctx context.Context, noteID string) (model.Note, error) {
	if err := f.enter(ctx, misskey.EndpointShowNote); err != nil {
		return model.Note{}, err
	}
	n, ok := f.Notes[noteID]
	if !ok {
		return model.Note{}, errors.NewNotFound(noteID, errors.NewBackend(misskey.EndpointShowNote, 400, "NO_SUCH_NOTE", "No such note.", nil))
	}
	return n, nil
}

func (f *Fake) Conversation(ctx context.Context, noteID string, limit int) ([]model.Note, error) {
	if err := f.enter(ctx, misskey.EndpointConversation); err != nil {
		return nil, err
	}
	return head(f.Conv[noteID], limit), nil
}

func (f *Fake) Children(ctx context.Context, noteID string, limit int) ([]model.Note, error) {
	if err := f.enter(ctx, misskey.EndpointChildren); err != nil {
		return nil, err
	}
	return head(f.Kids[noteID], limit), nil
}

func (f *Fake) Timeline(ctx context.Context, scope model.Scope, q misskey.TimelineQuery) ([]model.Note, error) {
	endpoint := misskey.EndpointGlobalTimeline
	if scope == model.ScopeLocal {
		endpoint = misskey.EndpointLocalTimeline
	}
	f.mu.Lock()
	f.LastTimeline, f.LastScope = q, scope
	f.mu.Unlock()
	if err := f.enter(ctx, endpoint); err != nil {
		return nil, err
	}
	if q.UntilID != "" {
		return f.Older[q.UntilID], nil
	}
	return f.Newer[q.SinceID], nil
}

func (f *Fake) AntennaNotes(ctx context.Context, antennaID string, limit int) ([]model.Note, error) {
	if err := f.enter(ctx, misskey.EndpointAntennaNotes); err != nil {
		return nil, err
	}
	return head(f.Antenna[antennaID], limit), nil
}

func (f *Fake) Emojis(ctx context.Context) ([]model.Emoji, error) {
	if err := f.enter(ctx, misskey.EndpointEmojis); err != nil {
		return nil, err
	}
	return f.EmojiList, nil
}

func head(notes []model.Note, limit int) []model.Note {
	if limit > 0 && len(notes) > limit {
		return notes[:limit]
	}
	return notes
}

// Note builds a minimal valid note created at t seconds past a fixed epoch.
func Note(id string, t int, replyID string) model.Note {
	n := model.Note{
		ID:        id,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(t) * time.Second),
		Author:    model.User{ID: "u-" + id, Username: "user" + id},
	}
	if replyID != "" {
		r := replyID
		n.ReplyID = &r
	}
	return n
}

var _ misskey.API = (*Fake)(nil)
