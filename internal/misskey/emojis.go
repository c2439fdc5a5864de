package misskey

import (
	"context"
	"encoding/json"
	"strings"

	"threadlens/internal/model"
)

// Emojis returns the instance's custom emoji catalog.
func (c *HTTPClient) Emojis(ctx context.Context) ([]model.Emoji, error) {
	var raw struct {
		Emojis []struct {
			Name     string   `json:"name"`
			URL      string   `json:"url"`
			Category *string  `json:"category"`
			Aliases  []string `json:"aliases"`
		} `json:"emojis"`
	}
	if err := c.Call(ctx, EndpointEmojis, map[string]any{}, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Emoji, 0, len(raw.Emojis))
	for _, e := range raw.Emojis {
		if e.Name == "" || e.URL == "" {
			continue
		}
		em := model.Emoji{Name: e.Name, URL: e.URL, Aliases: e.Aliases}
		if e.Category != nil {
			em.Category = *e.Category
		}
		out = append(out, em)
	}
	return out, nil
}

// emojiMap decodes the per-note emoji table, which backends send either as
// {"name": "url"} or as [{"name": "...", "url": "..."}].
type emojiMap map[string]string

func (m *emojiMap) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var list []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		out := make(emojiMap, len(list))
		for _, e := range list {
			if e.Name != "" && e.URL != "" {
				out[e.Name] = e.URL
			}
		}
		*m = out
		return nil
	}
	var plain map[string]string
	if err := json.Unmarshal(b, &plain); err != nil {
		return err
	}
	*m = plain
	return nil
}
