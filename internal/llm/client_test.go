// ABOUTME: Tests for the OpenAI-compatible client against an httptest backend
// ABOUTME: Checks headers, history replay, speaker parsing and timeouts

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/roster"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	headers  []http.Header
	reply    string
	delay    time.Duration
	status   int
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Clone())
		reply, delay, status := f.reply, f.delay, f.status
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "cmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	})
}

func newTestClient(t *testing.T, backend *fakeBackend, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)

	team, err := roster.New(roster.Default())
	require.NoError(t, err)

	cfg.BaseURL = srv.URL + "/v1/"
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	c, err := New(cfg, team, nil)
	require.NoError(t, err)
	return c
}

func history() []engine.Utterance {
	return []engine.Utterance{
		{Index: 0, Speaker: roster.UserProxy, Text: "weather in Paris?"},
		{Index: 1, Speaker: roster.Analyst, Text: "coder, fetch it from open-meteo"},
		{Index: 2, Speaker: roster.Coder, Text: "```python\nprint(20)\n```"},
	}
}

func TestProduceTurn(t *testing.T) {
	backend := &fakeBackend{reply: "here is the plan"}
	c := newTestClient(t, backend, Config{
		APIKey:      "secret",
		Temperature: 0.8,
		MaxTokens:   10000,
		Headers: map[string]string{
			"Authorization": "Api-Key secret",
			"x-folder-id":   "folder-1",
		},
	})
	analyst, _ := c.team.Role(roster.Analyst)

	got, err := c.ProduceTurn(context.Background(), analyst, history())
	require.NoError(t, err)
	assert.Equal(t, "here is the plan", got)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.InDelta(t, 0.8, req.Temperature, 0.0001)
	assert.Equal(t, 10000, req.MaxTokens)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, analyst.SystemPrompt, req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "user_proxy", req.Messages[1].Name)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[3].Role)
	assert.Equal(t, "coder", req.Messages[3].Name)

	h := backend.headers[0]
	assert.Equal(t, "Api-Key secret", h.Get("Authorization"))
	assert.Equal(t, "folder-1", h.Get("x-folder-id"))
}

func TestProduceTurn_DefaultAuthorization(t *testing.T) {
	backend := &fakeBackend{reply: "ok"}
	c := newTestClient(t, backend, Config{APIKey: "sk-test"})
	coder, _ := c.team.Role(roster.Coder)

	_, err := c.ProduceTurn(context.Background(), coder, history())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", backend.headers[0].Get("Authorization"))
}

func TestProduceTurn_Timeout(t *testing.T) {
	backend := &fakeBackend{reply: "late", delay: 2 * time.Second}
	c := newTestClient(t, backend, Config{Timeout: 50 * time.Millisecond})
	analyst, _ := c.team.Role(roster.Analyst)

	start := time.Now()
	_, err := c.ProduceTurn(context.Background(), analyst, history())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProduceTurn_BackendError(t *testing.T) {
	backend := &fakeBackend{status: http.StatusInternalServerError}
	c := newTestClient(t, backend, Config{})
	analyst, _ := c.team.Role(roster.Analyst)

	_, err := c.ProduceTurn(context.Background(), analyst, history())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyst")
}

func TestSelectNext(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  roster.RoleID
	}{
		{name: "exact id", reply: "user_proxy", want: roster.UserProxy},
		{name: "label", reply: "The Coder should go next.", want: roster.Coder},
		{name: "spaced id", reply: "User proxy, please clarify", want: roster.UserProxy},
		{name: "first mention wins", reply: "coder, then user_proxy", want: roster.Coder},
		{name: "unparsable falls back", reply: "nobody", want: roster.Coder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{reply: tt.reply}
			c := newTestClient(t, backend, Config{})

			got, err := c.SelectNext(context.Background(), roster.Analyst,
				[]roster.RoleID{roster.Coder, roster.UserProxy}, history()[:2])
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			req := backend.requests[0]
			last := req.Messages[len(req.Messages)-1]
			assert.Equal(t, openai.ChatMessageRoleSystem, last.Role)
			assert.Contains(t, last.Content, "[coder, user_proxy]")
		})
	}
}

func TestSelectNext_NoCandidates(t *testing.T) {
	c := newTestClient(t, &fakeBackend{}, Config{})
	_, err := c.SelectNext(context.Background(), roster.Analyst, nil, nil)
	assert.Error(t, err)
}

func TestNew_RequiresModel(t *testing.T) {
	team, err := roster.New(roster.Default())
	require.NoError(t, err)
	_, err = New(Config{}, team, nil)
	assert.Error(t, err)
	_, err = New(Config{Model: "m"}, nil, nil)
	assert.Error(t, err)

	c, err := New(Config{Model: "m"}, team, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestLabelName(t *testing.T) {
	assert.Equal(t, "Analyst", labelName("🧠 Analyst"))
	assert.Equal(t, "User Proxy", labelName("👤 User Proxy"))
	assert.Equal(t, "Plain Label", labelName("Plain Label"))
}
