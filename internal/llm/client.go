// ABOUTME: OpenAI-compatible turn producer and speaker selector for the expert team
// ABOUTME: Wraps go-openai with per-call timeouts, extra headers and role-aware history

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/roster"
)

// DefaultTimeout bounds one completion call.
const DefaultTimeout = 120 * time.Second

// ErrEmptyResponse is returned when the backend answers without choices.
var ErrEmptyResponse = errors.New("completion returned no choices")

// Config describes the backend.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	// Headers are set on every request, replacing any header of the same name.
	Headers map[string]string
}

// Client implements engine.TurnProducer and engine.SpeakerSelector.
type Client struct {
	api    *openai.Client
	cfg    Config
	team   *roster.Roster
	logger *slog.Logger
}

// New creates a Client for the given team.
func New(cfg Config, team *roster.Roster, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	if team == nil {
		return nil, errors.New("roster is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{
		Transport: &headerTransport{headers: cfg.Headers, base: http.DefaultTransport},
	}

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		team:   team,
		logger: logger.With("component", "llm"),
	}, nil
}

// ProduceTurn asks the backend to speak as the given role.
func (c *Client) ProduceTurn(ctx context.Context, speaker roster.Role, history []engine.Utterance) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if speaker.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: speaker.SystemPrompt,
		})
	}
	messages = append(messages, c.replay(history, speaker.ID)...)

	reply, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("producing turn for %s: %w", speaker.ID, err)
	}
	return reply, nil
}

// SelectNext asks the coordinator which of the allowed roles speaks next. A reply
// naming none of them falls back to the first allowed role.
func (c *Client) SelectNext(ctx context.Context, current roster.RoleID, allowed []roster.RoleID, history []engine.Utterance) (roster.RoleID, error) {
	if len(allowed) == 0 {
		return "", errors.New("no roles to choose from")
	}
	coordinator := c.team.Coordinator()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: coordinator.SystemPrompt + "\n\n" + c.rosterDescription(allowed),
	})
	messages = append(messages, c.replay(history, coordinator.ID)...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: selectionPrompt(current, allowed),
	})

	reply, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("selecting speaker after %s: %w", current, err)
	}

	next, ok := c.parseSelection(reply, allowed)
	if !ok {
		c.logger.Warn("coordinator reply named no allowed role, using first",
			"reply", reply,
			"allowed", allowed)
		return allowed[0], nil
	}
	c.logger.Debug("speaker selected", "from", current, "to", next)
	return next, nil
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("completion received",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

// replay maps history onto chat messages from the point of view of self.
func (c *Client) replay(history []engine.Utterance, self roster.RoleID) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, u := range history {
		if u.Speaker == self {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: u.Text,
			})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: u.Text,
			Name:    string(u.Speaker),
		})
	}
	return out
}

func (c *Client) rosterDescription(allowed []roster.RoleID) string {
	var b strings.Builder
	b.WriteString("Team members:\n")
	for _, id := range allowed {
		role, _ := c.team.Role(id)
		fmt.Fprintf(&b, "- %s (%s)\n", id, role.Label)
	}
	return b.String()
}

func selectionPrompt(current roster.RoleID, allowed []roster.RoleID) string {
	names := make([]string, len(allowed))
	for i, id := range allowed {
		names[i] = string(id)
	}
	return fmt.Sprintf("Read the conversation above. %s spoke last. Select the next role from [%s]. Only return the role.",
		current, strings.Join(names, ", "))
}

// parseSelection returns the allowed role whose id or label appears first in reply.
func (c *Client) parseSelection(reply string, allowed []roster.RoleID) (roster.RoleID, bool) {
	lower := strings.ToLower(reply)
	best, bestAt := roster.RoleID(""), -1
	for _, id := range allowed {
		candidates := []string{strings.ToLower(string(id)), strings.ToLower(strings.ReplaceAll(string(id), "_", " "))}
		if role, ok := c.team.Role(id); ok {
			candidates = append(candidates, strings.ToLower(labelName(role.Label)))
		}
		for _, cand := range candidates {
			if cand == "" {
				continue
			}
			if at := strings.Index(lower, cand); at >= 0 && (bestAt < 0 || at < bestAt) {
				best, bestAt = id, at
			}
		}
	}
	return best, bestAt >= 0
}

// labelName drops a leading emoji from a display label.
func labelName(label string) string {
	if i := strings.IndexByte(label, ' '); i >= 0 && !isASCIIWord(label[:i]) {
		return strings.TrimSpace(label[i+1:])
	}
	return label
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return s != ""
}

// headerTransport sets fixed headers on every outgoing request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

var (
	_ engine.TurnProducer    = (*Client)(nil)
	_ engine.SpeakerSelector = (*Client)(nil)
)
