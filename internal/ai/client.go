// Package ai is the collaborator behind config synthesis, change summaries
// and intent judging. It speaks the OpenAI-compatible chat API over raw
// net/http; every failure degrades to a caller-side fallback, never to a
// failed scrape.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/safeurl"
)

// maxResponseBytes caps provider responses.
const maxResponseBytes = 1 << 20

// Config configures the collaborator. An empty APIKey disables it: every
// call returns ErrAIUnavailable and callers use their fallbacks.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	SynthesisTimeout time.Duration
	SummaryTimeout   time.Duration
	JudgeTimeout     time.Duration

	// Per-principal budgets, requests per minute.
	SynthesisPerMin int
	SummariesPerMin int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 20 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 15 * time.Second
	}
	if c.JudgeTimeout <= 0 {
		c.JudgeTimeout = 10 * time.Second
	}
	if c.SynthesisPerMin <= 0 {
		c.SynthesisPerMin = 20
	}
	if c.SummariesPerMin <= 0 {
		c.SummariesPerMin = 60
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client calls the provider. Safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger
	conv   *converter.Converter

	synthesis *principalLimiter
	summaries *principalLimiter
}

// NewClient builds a collaborator client.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "ai"),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		synthesis: newPrincipalLimiter(cfg.SynthesisPerMin),
		summaries: newPrincipalLimiter(cfg.SummariesPerMin),
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != ""
}

// SynthesizeConfig proposes an extraction config for a page. The page HTML
// is digested to markdown before prompting. The result is validated before
// being returned; callers fall back to extract.MinimalConfig on any error.
func (c *Client) SynthesizeConfig(ctx context.Context, principal, pageURL, description, pageHTML string) (extract.Config, error) {
	if !c.Enabled() {
		return extract.Config{}, ErrAIUnavailable
	}
	if !c.synthesis.allow(principal) {
		return extract.Config{}, fmt.Errorf("%w: synthesis budget for %s", ErrRateLimited, principal)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SynthesisTimeout)
	defer cancel()

	digest := c.pageDigest(pageHTML, pageURL)
	raw, err := c.chat(ctx, synthesisSystemPrompt, synthesisUserPrompt(pageURL, description, digest), true)
	if err != nil {
		return extract.Config{}, err
	}

	cfg, err := extract.ParseConfig(raw)
	if err != nil {
		c.logger.Warn("ai: synthesized config rejected", "error", err)
		return extract.Config{}, fmt.Errorf("%w: %v", ErrConfigSynthesis, err)
	}
	return cfg, nil
}

// SummarizeChange produces a one-sentence summary of a diff. It runs after
// the event row exists; errors mean the event keeps its key-change
// description.
func (c *Client) SummarizeChange(ctx context.Context, principal string, prior, current extract.StateMap, description string) (string, error) {
	if !c.Enabled() {
		return "", ErrAIUnavailable
	}
	if !c.summaries.allow(principal) {
		return "", fmt.Errorf("%w: summary budget for %s", ErrRateLimited, principal)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SummaryTimeout)
	defer cancel()

	raw, err := c.chat(ctx, summarySystemPrompt, summaryUserPrompt(prior, current, description), false)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrAIUnavailable)
	}
	return summary, nil
}

// JudgeAlert decides whether a diff matches the user's stated intent. Any
// failure fails open: the change is treated as alert-worthy.
func (c *Client) JudgeAlert(ctx context.Context, prior, current extract.StateMap, intent string) bool {
	if !c.Enabled() {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.JudgeTimeout)
	defer cancel()

	raw, err := c.chat(ctx, judgeSystemPrompt, judgeUserPrompt(prior, current, intent), true)
	if err != nil {
		c.logger.Debug("ai: judge unavailable, failing open", "error", err)
		return true
	}
	var verdict struct {
		Alert string `json:"alert"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		c.logger.Debug("ai: judge returned malformed verdict, failing open", "error", err)
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(verdict.Alert), "no")
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal response shape vigil needs.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// chat performs one completion round-trip. jsonMode forces a json_object
// response and validates the content parses.
func (c *Client) chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrAIUnavailable, err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrAIUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := safeurl.LimitedReadAll(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrAIUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyProviderError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrAIUnavailable, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrAIUnavailable)
	}

	content := chatResp.Choices[0].Message.Content
	if jsonMode && !json.Valid([]byte(content)) {
		return "", fmt.Errorf("%w: provider returned invalid JSON", ErrAIUnavailable)
	}
	return content, nil
}

// classifyProviderError keeps the provider's message when it sent one.
func classifyProviderError(status int, body []byte) error {
	var errResp chatErrorResponse
	msg := "provider error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: provider: %s", ErrRateLimited, msg)
	}
	return fmt.Errorf("%w: provider returned %d: %s", ErrAIUnavailable, status, msg)
}
