package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxImageBytes = 10 << 20

// OllamaConfig configures the native Ollama chat endpoint.
type OllamaConfig struct {
	BaseURL      string
	TextModel    string
	VisionModel  string
	SystemPrompt string
	Temperature  float64
	NumPredict   int
	Timeout      time.Duration
	MaxAttempts  int
}

// ImageFetcher loads the bytes behind an attachment URL.
type ImageFetcher func(ctx context.Context, url string) ([]byte, error)

// OllamaOption configures an OllamaAdapter.
type OllamaOption func(*OllamaAdapter)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(a *OllamaAdapter) { a.client = c }
}

// WithImageFetcher replaces how image attachments are loaded.
func WithImageFetcher(f ImageFetcher) OllamaOption {
	return func(a *OllamaAdapter) { a.fetch = f }
}

// OllamaAdapter streams from POST {base}/api/chat, which answers with one JSON
// object per line.
type OllamaAdapter struct {
	cfg    OllamaConfig
	client *http.Client
	fetch  ImageFetcher
	policy retryPolicy
}

// NewOllamaAdapter fills defaults for an unset base URL, vision model and
// timeout. TextModel is required.
func NewOllamaAdapter(cfg OllamaConfig, opts ...OllamaOption) (*OllamaAdapter, error) {
	if cfg.TextModel == "" {
		return nil, fmt.Errorf("missing_ollama_model")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), "/api")
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	a := &OllamaAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policy: defaultRetryPolicy(),
	}
	if cfg.MaxAttempts > 0 {
		a.policy.maxAttempts = cfg.MaxAttempts
	}
	a.fetch = a.httpFetch
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Model returns the vision model for image requests, the text model otherwise.
func (a *OllamaAdapter) Model(req Request) string {
	if req.ImageURL != "" {
		return a.cfg.VisionModel
	}
	return a.cfg.TextModel
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (a *OllamaAdapter) buildPayload(ctx context.Context, req Request, out chan<- Event) ([]byte, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages)+2)
	if a.cfg.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: RoleSystem, Content: a.cfg.SystemPrompt})
	}
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	last := ollamaMessage{Role: RoleUser, Content: req.Prompt}
	if req.ImageURL != "" {
		img, err := a.fetch(ctx, req.ImageURL)
		if err != nil {
			emit(ctx, out, Event{Type: EventWarning, Message: fmt.Sprintf("image unavailable: %v", err)})
		} else {
			last.Images = []string{base64.StdEncoding.EncodeToString(img)}
		}
	}
	messages = append(messages, last)

	options := map[string]any{"temperature": a.cfg.Temperature}
	if a.cfg.NumPredict > 0 {
		options["num_predict"] = a.cfg.NumPredict
	}
	return json.Marshal(ollamaRequest{
		Model:    a.Model(req),
		Messages: messages,
		Stream:   true,
		Options:  options,
	})
}

// Stream retries the request under the adapter's policy until the first
// byte of the response, then relays deltas until done or ctx ends.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		if !emit(ctx, out, Event{Type: EventStart}) {
			return
		}

		body, err := a.buildPayload(ctx, req, out)
		if err != nil {
			emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}

		resp, err := a.open(ctx, body, out)
		if err != nil {
			emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}
		defer resp.Body.Close()

		a.decode(ctx, resp.Body, out)
	}()
	return out
}

// open posts the request, retrying transport failures and retryable statuses
// until a response starts streaming.
func (a *OllamaAdapter) open(ctx context.Context, body []byte, out chan<- Event) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= a.policy.maxAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewAbortedError("request_aborted", ctx.Err())
			}
			lastErr = err
			if !shouldRetryTransportError(err) {
				return nil, err
			}
		} else if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			httpErr := &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
			lastErr = httpErr
			if !shouldRetryHTTPStatus(resp.StatusCode) {
				return nil, httpErr
			}
		} else {
			return resp, nil
		}

		if attempt == a.policy.maxAttempts {
			break
		}
		emit(ctx, out, Event{
			Type:    EventWarning,
			Message: fmt.Sprintf("ollama retry attempt %d/%d: %v", attempt, a.policy.maxAttempts, lastErr),
		})
		if waitErr := waitRetry(ctx, retryDelayForAttempt(a.policy, attempt)); waitErr != nil {
			return nil, NewAbortedError("request_aborted", waitErr)
		}
	}
	return nil, &RetryExhaustedError{Attempts: a.policy.maxAttempts, LastErr: lastErr}
}

func (a *OllamaAdapter) decode(ctx context.Context, r io.Reader, out chan<- Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			emit(ctx, out, Event{Type: EventError, Err: fmt.Errorf("ollama: %s", chunk.Error)})
			return
		}
		if chunk.Message.Content != "" {
			if !emit(ctx, out, Event{Type: EventTextDelta, Delta: chunk.Message.Content}) {
				return
			}
		}
		if chunk.Done {
			emit(ctx, out, Event{Type: EventDone})
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, out, Event{Type: EventError, Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	emit(ctx, out, Event{Type: EventDone})
}

func (a *OllamaAdapter) httpFetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported image url %q", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
