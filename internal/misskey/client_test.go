package misskey

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"threadlens/internal/errors"
	"threadlens/internal/model"
)

const noteJSON = `{
	"id": "%s",
	"createdAt": "2025-07-08T12:00:00.000Z",
	"text": "hello :blob:",
	"cw": null,
	"replyId": null,
	"user": {"id": "u1", "name": null, "username": "alice", "host": null, "avatarUrl": "https://mk.example/avatar.webp"},
	"files": [{"url": "https://mk.example/f.png", "thumbnailUrl": "https://mk.example/t.webp"}, {"url": "https://mk.example/g.png", "thumbnailUrl": null}],
	"reactions": {"👍": 2},
	"emojis": {"blob": "https://mk.example/blob.png"}
}`

// helper to create a client against a test server
func newTestClient(ts *httptest.Server, attempts int) *HTTPClient {
	return NewHTTPClient(ts.URL, "tok", Options{
		RPS:         1000,
		Burst:       100,
		MaxAttempts: attempts,
		BaseBackoff: 10 * time.Millisecond,
		HTTPClient:  ts.Client(),
	})
}

func TestCallSendsCredentialTwice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/notes/show", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "tok", body["i"])
		require.Equal(t, "n1", body["noteId"])
		_, _ = w.Write([]byte(fmt.Sprintf(noteJSON, "n1")))
	}))
	defer ts.Close()

	n, err := newTestClient(ts, 1).ShowNote(context.Background(), "n1")
	require.NoError(t, err)
	require.Equal(t, "n1", n.ID)
	require.Equal(t, "alice", n.Author.Username)
	require.Equal(t, "", n.Author.Name)
	require.Equal(t, []string{"https://mk.example/t.webp", "https://mk.example/g.png"}, n.Attachments)
	require.Equal(t, "https://mk.example/blob.png", n.CustomEmojis["blob"])
	require.Equal(t, 2, n.ReactionCounts["👍"])
	require.True(t, n.IsRoot())
}

func TestShowNoteNotFound(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"no such note", http.StatusBadRequest, `{"error":{"message":"No such note.","code":"NO_SUCH_NOTE"}}`},
		{"404", http.StatusNotFound, `{}`},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"hidden","code":"ACCESS_DENIED"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			_, err := newTestClient(ts, 1).ShowNote(context.Background(), "gone")
			require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
		})
	}
}

func TestBackendErrorCarriesRetryAfter(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit exceeded.","code":"RATE_LIMIT_EXCEEDED"}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts, 1).Timeline(context.Background(), model.ScopeGlobal, TimelineQuery{Limit: 10})
	require.Error(t, err)
	be, ok := err.(*errors.BackendError)
	require.True(t, ok, "got %T", err)
	require.Equal(t, EndpointGlobalTimeline, be.Endpoint)
	require.Equal(t, http.StatusTooManyRequests, be.StatusCode)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", be.Code)
	require.NotNil(t, be.RetryAfterSeconds)
	require.Equal(t, 42, *be.RetryAfterSeconds)
	// no retries by default
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDoWithRetryHandles429(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["i"] != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	notes, err := newTestClient(ts, 3).AntennaNotes(context.Background(), "ant", 30)
	require.NoError(t, err)
	require.Empty(t, notes)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestTransportFailureIsBackendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(ts, 1)
	ts.Close()

	_, err := c.Conversation(context.Background(), "n1", 30)
	require.True(t, errors.Is(err, errors.ErrBackend), "got %v", err)
}

func TestListingEndpointsNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"No such note.","code":"NO_SUCH_NOTE"}}`))
	}))
	defer ts.Close()
	c := newTestClient(ts, 1)

	_, err := c.Conversation(context.Background(), "gone", 30)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	_, err = c.Children(context.Background(), "gone", 30)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestChildrenDecodesRenoteID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		quote := fmt.Sprintf(noteJSON, "q1")
		quote = quote[:len(quote)-1] + `, "renoteId": "root"}`
		_, _ = w.Write([]byte("[" + fmt.Sprintf(noteJSON, "r1") + "," + quote + "]"))
	}))
	defer ts.Close()

	notes, err := newTestClient(ts, 1).Children(context.Background(), "root", 30)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.Nil(t, notes[0].RenoteID)
	require.NotNil(t, notes[1].RenoteID)
	require.Equal(t, "root", *notes[1].RenoteID)
}

func TestCanceledCallIsBackendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(ts, 1).Conversation(ctx, "n1", 30)
	require.True(t, errors.Is(err, errors.ErrBackend), "got %v", err)
	require.True(t, stderrors.Is(err, context.Canceled))
	require.Equal(t, http.StatusBadGateway, errors.HTTPStatus(err))
}

func TestTimelineParamsAndLocalEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notes/local-timeline", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "a1", body["untilId"])
		require.NotContains(t, body, "sinceId")
		require.EqualValues(t, 10, body["limit"])
		_, _ = w.Write([]byte("[" + fmt.Sprintf(noteJSON, "x1") + "]"))
	}))
	defer ts.Close()

	notes, err := newTestClient(ts, 1).Timeline(context.Background(), model.ScopeLocal, TimelineQuery{Limit: 10, UntilID: "a1"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func TestMalformedNoteIsValidationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"x","createdAt":"2025-07-08T12:00:00Z","user":{"id":"u"}}]`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts, 1).Children(context.Background(), "n1", 30)
	require.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
}

func TestEmojisAcceptsArrayShapeOnNotes(t *testing.T) {
	var m emojiMap
	require.NoError(t, json.Unmarshal([]byte(`[{"name":"a","url":"https://x/a.png"},{"name":"","url":"u"}]`), &m))
	require.Equal(t, emojiMap{"a": "https://x/a.png"}, m)

	m = nil
	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	require.Nil(t, m)
}

func TestEmojisCatalog(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/emojis", r.URL.Path)
		_, _ = w.Write([]byte(`{"emojis":[{"name":"smile","url":"https://mk.example/smile.png","category":null,"aliases":["happy"]},{"name":"broken","url":""}]}`))
	}))
	defer ts.Close()

	list, err := newTestClient(ts, 1).Emojis(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.Emoji{{Name: "smile", URL: "https://mk.example/smile.png", Aliases: []string{"happy"}}}, list)
}

func TestRetryAfterSeconds(t *testing.T) {
	require.Nil(t, retryAfterSeconds(""))
	require.Nil(t, retryAfterSeconds("soon"))
	require.Equal(t, 7, *retryAfterSeconds("7"))
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := retryAfterSeconds(future)
	require.NotNil(t, got)
	require.InDelta(t, 90, *got, 2)
}
