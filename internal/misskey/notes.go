package misskey

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"threadlens/internal/errors"
	"threadlens/internal/model"
)

// ShowNote fetches a single note. Missing or invisible notes yield *errors.NotFoundError.
func (c *HTTPClient) ShowNote(ctx context.Context, noteID string) (model.Note, error) {
	var raw rawNote
	err := c.Call(ctx, EndpointShowNote, map[string]any{"noteId": noteID}, &raw)
	if err != nil {
		return model.Note{}, asNotFound(noteID, err)
	}
	n := raw.toModel()
	if err := n.Validate(); err != nil {
		return model.Note{}, err
	}
	return n, nil
}

// Conversation returns the notes the backend considers part of noteID's conversation, root excluded.
// A missing noteID yields *errors.NotFoundError.
func (c *HTTPClient) Conversation(ctx context.Context, noteID string, limit int) ([]model.Note, error) {
	out, err := c.notes(ctx, EndpointConversation, map[string]any{"noteId": noteID, "limit": clamp(limit, 1, 100)})
	if err != nil {
		return nil, asNotFound(noteID, err)
	}
	return out, nil
}

// Children returns direct replies and quotes of noteID. Quotes carry RenoteID.
// A missing noteID yields *errors.NotFoundError.
func (c *HTTPClient) Children(ctx context.Context, noteID string, limit int) ([]model.Note, error) {
	out, err := c.notes(ctx, EndpointChildren, map[string]any{"noteId": noteID, "limit": clamp(limit, 1, 100)})
	if err != nil {
		return nil, asNotFound(noteID, err)
	}
	return out, nil
}

// Timeline pages the global or local public timeline.
func (c *HTTPClient) Timeline(ctx context.Context, scope model.Scope, q TimelineQuery) ([]model.Note, error) {
	endpoint := EndpointGlobalTimeline
	if scope == model.ScopeLocal {
		endpoint = EndpointLocalTimeline
	}
	params := map[string]any{"limit": clamp(q.Limit, 1, 100)}
	if q.UntilID != "" {
		params["untilId"] = q.UntilID
	}
	if q.SinceID != "" {
		params["sinceId"] = q.SinceID
	}
	return c.notes(ctx, endpoint, params)
}

// AntennaNotes returns the newest notes collected by an antenna.
func (c *HTTPClient) AntennaNotes(ctx context.Context, antennaID string, limit int) ([]model.Note, error) {
	return c.notes(ctx, EndpointAntennaNotes, map[string]any{"antennaId": antennaID, "limit": clamp(limit, 1, 100)})
}

func (c *HTTPClient) notes(ctx context.Context, endpoint string, params map[string]any) ([]model.Note, error) {
	var raw []rawNote
	if err := c.Call(ctx, endpoint, params, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Note, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.toModel())
	}
	if err := model.ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

// asNotFound converts backend answers that mean "no such note" into *errors.NotFoundError.
func asNotFound(noteID string, err error) error {
	var be *errors.BackendError
	if !stderrors.As(err, &be) {
		return err
	}
	switch {
	case be.Code == "NO_SUCH_NOTE",
		be.StatusCode == http.StatusNotFound,
		be.StatusCode == http.StatusForbidden,
		be.StatusCode == http.StatusGone:
		return errors.NewNotFound(noteID, be)
	}
	return err
}

type rawUser struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Username  string  `json:"username"`
	Host      *string `json:"host"`
	AvatarURL *string `json:"avatarUrl"`
}

type rawFile struct {
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnailUrl"`
}

type rawNote struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Text      *string        `json:"text"`
	CW        *string        `json:"cw"`
	ReplyID   *string        `json:"replyId"`
	RenoteID  *string        `json:"renoteId"`
	User      rawUser        `json:"user"`
	Files     []rawFile      `json:"files"`
	Reactions map[string]int `json:"reactions"`
	Emojis    emojiMap       `json:"emojis"`
}

func (r rawNote) toModel() model.Note {
	n := model.Note{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		Text:           r.Text,
		ContentWarning: r.CW,
		ReplyID:        r.ReplyID,
		RenoteID:       r.RenoteID,
		Author: model.User{
			ID:       r.User.ID,
			Username: r.User.Username,
			Host:     r.User.Host,
		},
		ReactionCounts: r.Reactions,
	}
	if r.User.Name != nil {
		n.Author.Name = *r.User.Name
	}
	if r.User.AvatarURL != nil {
		n.Author.AvatarURL = *r.User.AvatarURL
	}
	for _, f := range r.Files {
		if f.ThumbnailURL != nil && *f.ThumbnailURL != "" {
			n.Attachments = append(n.Attachments, *f.ThumbnailURL)
		} else if f.URL != "" {
			n.Attachments = append(n.Attachments, f.URL)
		}
	}
	if len(r.Emojis) > 0 {
		n.CustomEmojis = map[string]string(r.Emojis)
	}
	return n
}
