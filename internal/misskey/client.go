package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"threadlens/internal/errors"
	"threadlens/internal/logging"
	"threadlens/internal/metrics"
	"threadlens/internal/model"
	"threadlens/internal/util"
)

// Endpoint names, relative to /api/.
const (
	EndpointShowNote       = "notes/show"
	EndpointConversation   = "notes/conversation"
	EndpointChildren       = "notes/children"
	EndpointGlobalTimeline = "notes/global-timeline"
	EndpointLocalTimeline  = "notes/local-timeline"
	EndpointAntennaNotes   = "antennas/notes"
	EndpointEmojis         = "emojis"
)

// API is the read-only surface of a Misskey-compatible backend.
type API interface {
	ShowNote(ctx context.Context, noteID string) (model.Note, error)
	Conversation(ctx context.Context, noteID string, limit int) ([]model.Note, error)
	Children(ctx context.Context, noteID string, limit int) ([]model.Note, error)
	Timeline(ctx context.Context, scope model.Scope, q TimelineQuery) ([]model.Note, error)
	AntennaNotes(ctx context.Context, antennaID string, limit int) ([]model.Note, error)
	Emojis(ctx context.Context) ([]model.Emoji, error)
}

// TimelineQuery pages a public timeline. At most one of UntilID and SinceID is usually set.
type TimelineQuery struct {
	Limit   int
	UntilID string
	SinceID string
}

// Options tune the transport. Zero values fall back to DefaultOptions.
type Options struct {
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxAttempts int
	BaseBackoff time.Duration
	HTTPClient  *http.Client
}

func DefaultOptions() Options {
	return Options{
		Timeout:     15 * time.Second,
		RPS:         2,
		Burst:       10,
		MaxAttempts: 1,
		BaseBackoff: 500 * time.Millisecond,
	}
}

// HTTPClient talks to one instance with one credential.
type HTTPClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPClient(host, token string, opts Options) *HTTPClient {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RPS <= 0 {
		opts.RPS = def.RPS
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPClient{
		baseURL:     util.BaseURL(host),
		token:       token,
		httpClient:  hc,
		limiter:     rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
	}
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// Call POSTs params to /api/<endpoint> and decodes the JSON response into out.
// The credential is sent both as a bearer header and as the "i" body field.
// Non-2xx responses and transport failures come back as *errors.BackendError.
func (c *HTTPClient) Call(ctx context.Context, endpoint string, params map[string]any, out any) error {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	if c.token != "" {
		body["i"] = c.token
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.WrapBackend(endpoint, err)
	}

	start := time.Now()
	resp, err := c.doWithRetry(ctx, endpoint, payload)
	if err != nil {
		metrics.ObserveBackendCall(endpoint, start, 0, true)
		if ctx.Err() != nil {
			return errors.WrapBackend(endpoint, ctx.Err())
		}
		return errors.WrapBackend(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.ObserveBackendCall(endpoint, start, resp.StatusCode, true)
		be := parseBackendError(endpoint, resp)
		logging.Warn("backend_error", map[string]any{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"code":     be.Code,
		})
		return be
	}
	metrics.ObserveBackendCall(endpoint, start, resp.StatusCode, false)
	logging.Debug("backend_call", map[string]any{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"took_ms":  time.Since(start).Milliseconds(),
	})
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewValidation("", []string{fmt.Sprintf("%s: decode: %v", endpoint, err)})
	}
	return nil
}

func parseBackendError(endpoint string, resp *http.Response) *errors.BackendError {
	var raw struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(b, &raw)
	return errors.NewBackend(endpoint, resp.StatusCode, raw.Error.Code, raw.Error.Message, retryAfterSeconds(resp.Header.Get("Retry-After")))
}

// retryAfterSeconds parses a Retry-After value given as seconds or an HTTP date.
func retryAfterSeconds(v string) *int {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return &secs
	}
	if t, err := http.ParseTime(v); err == nil {
		secs := int(time.Until(t).Round(time.Second).Seconds())
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}

// doWithRetry retries 429 and 5xx responses and transport failures up to
// maxAttempts. With maxAttempts of 1 the first response is returned as is.
func (c *HTTPClient) doWithRetry(ctx context.Context, endpoint string, payload []byte) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		c.auth(req)
		resp, err := c.httpClient.Do(req)
		last := attempt == c.maxAttempts
		if err == nil {
			retryable := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
			if !retryable || last {
				return resp, nil
			}
			wait := backoff
			if ra := retryAfterSeconds(resp.Header.Get("Retry-After")); ra != nil {
				wait = time.Duration(*ra) * time.Second
			}
			_ = resp.Body.Close()
			if err := sleep(ctx, jitter(wait)); err != nil {
				return nil, err
			}
			metrics.IncAPIRetry(endpoint)
			backoff *= 2
			continue
		}
		lastErr = err
		if last || ctx.Err() != nil {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		metrics.IncAPIRetry(endpoint)
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", c.maxAttempts, lastErr)
}

// jitter spreads wait by +/-20%.
func jitter(wait time.Duration) time.Duration {
	j := time.Duration(float64(wait) * 0.2)
	if j <= 0 {
		return wait
	}
	return wait - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
