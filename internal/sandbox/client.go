// ABOUTME: Executor turn producer that runs fenced code blocks in a remote sandbox
// ABOUTME: Posts each block to the sandbox HTTP API and renders the banner-style execution report

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/roster"
)

// NoCodeReply is the executor's turn when the latest message carries no code.
const NoCodeReply = "No code blocks found in the last message."

// DefaultTimeout bounds one execution request.
const DefaultTimeout = 120 * time.Second

var codeBlockRe = regexp.MustCompile("(?s)```([\\w+-]*)[ \\t]*\\r?\\n(.*?)```")

// Block is one fenced code block.
type Block struct {
	Language string
	Code     string
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ExecuteResponse is the sandbox's answer.
type ExecuteResponse struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

// Client talks to the sandbox HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a sandbox client. timeout bounds each execution request.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "sandbox"),
	}
}

// ExtractBlocks returns the fenced code blocks of text in order. An untagged block
// is treated as python.
func ExtractBlocks(text string) []Block {
	matches := codeBlockRe.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		code := m[2]
		if strings.TrimSpace(code) == "" {
			continue
		}
		blocks = append(blocks, Block{Language: normalizeLanguage(m[1]), Code: code})
	}
	return blocks
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "", "py", "python", "python3":
		return "python"
	case "sh", "bash", "shell", "console":
		return "sh"
	default:
		return strings.ToLower(lang)
	}
}

// ProduceTurn executes the code blocks of the latest utterance and reports the result.
// Execution stops at the first failing block.
func (c *Client) ProduceTurn(ctx context.Context, speaker roster.Role, history []engine.Utterance) (string, error) {
	if len(history) == 0 {
		return NoCodeReply, nil
	}
	blocks := ExtractBlocks(history[len(history)-1].Text)
	if len(blocks) == 0 {
		return NoCodeReply, nil
	}

	var report strings.Builder
	var output strings.Builder
	exitCode := 0
	for i, block := range blocks {
		fmt.Fprintf(&report, ">>>>>>>> EXECUTING CODE BLOCK %d (inferred language is %s)...\n", i, block.Language)

		resp, err := c.Execute(ctx, block)
		if err != nil {
			return "", fmt.Errorf("executing block %d for %s: %w", i, speaker.ID, err)
		}
		output.WriteString(resp.Output)
		if resp.Error != "" {
			output.WriteString(resp.Error)
		}
		exitCode = resp.ExitCode
		if exitCode != 0 {
			c.logger.Info("code block failed", "block", i, "exit_code", exitCode)
			break
		}
	}

	status := "execution succeeded"
	if exitCode != 0 {
		status = "execution failed"
	}
	fmt.Fprintf(&report, "exitcode: %d (%s)\nCode output: %s", exitCode, status, output.String())
	return report.String(), nil
}

// Execute runs one block.
func (c *Client) Execute(ctx context.Context, block Block) (*ExecuteResponse, error) {
	body, err := json.Marshal(ExecuteRequest{Language: block.Language, Code: block.Code})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	c.logger.Debug("code block executed",
		"language", block.Language,
		"exit_code", out.ExitCode,
		"duration", time.Since(start))
	return &out, nil
}

var _ engine.TurnProducer = (*Client)(nil)
