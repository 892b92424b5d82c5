// Package llm calls a hosted chat-completion endpoint (Azure OpenAI or any
// OpenAI-compatible API) to write group summaries and evening follow-ups.
// Requests are single-shot: a failure is reported to the caller, which
// skips the affected group.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"
)

// ErrEmptyReply means the endpoint answered without any content.
var ErrEmptyReply = errors.New("no response from model")

// Client sends chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	summaryTmpl  *template.Template
	followUpTmpl *template.Template
}

// PromptData is the data the prompt templates are rendered with.
type PromptData struct {
	Group      string
	Admin      string
	Transcript string
}

// New creates a client. The prompt templates are parsed up front so a
// broken template fails at startup instead of mid-batch.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("llm endpoint is not configured")
	}

	summary, err := template.New("summary").Parse(cfg.SummaryPrompt)
	if err != nil {
		return nil, fmt.Errorf("parsing summary prompt: %w", err)
	}
	followUp, err := template.New("followup").Parse(cfg.FollowUpPrompt)
	if err != nil {
		return nil, fmt.Errorf("parsing follow-up prompt: %w", err)
	}

	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger.With("component", "llm"),
		summaryTmpl:  summary,
		followUpTmpl: followUp,
	}, nil
}

// Provider returns the resolved provider name.
func (c *Client) Provider() string { return c.cfg.Provider }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// chatEndpoint returns the URL requests are posted to. Azure endpoints are
// full deployment URLs and used as-is.
func (c *Client) chatEndpoint() string {
	if c.cfg.Provider == ProviderAzure {
		return c.cfg.Endpoint
	}
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

func (c *Client) setAuth(req *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	if c.cfg.Provider == ProviderAzure {
		req.Header.Set("api-key", c.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

// Complete sends one system + user exchange and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.chatEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	c.logger.Debug("sending chat completion", "provider", c.cfg.Provider, "endpoint", endpoint)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apierr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       bodyStr,
			Kind:       classifyAPIError(resp.StatusCode, bodyStr),
		}
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"kind", apierr.Kind.String(),
			"body", truncate(bodyStr, 500),
		)
		return "", apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Body:       chatResp.Error.Message,
			Kind:       classifyAPIError(resp.StatusCode, chatResp.Error.Code+" "+chatResp.Error.Message),
		}
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}

	c.logger.Info("chat completion done",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", chatResp.Choices[0].FinishReason,
	)
	return content, nil
}

func render(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// Summarize writes the admin summary of one group's transcript.
func (c *Client) Summarize(ctx context.Context, group, transcript string) (string, error) {
	prompt, err := render(c.summaryTmpl, PromptData{Group: group, Transcript: transcript})
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, prompt)
}

// FollowUps writes evening follow-up lines for a group, one per
// participant, skipping admin. Blank lines of the reply are dropped.
func (c *Client) FollowUps(ctx context.Context, group, admin, transcript string) ([]string, error) {
	prompt, err := render(c.followUpTmpl, PromptData{Group: group, Admin: admin, Transcript: transcript})
	if err != nil {
		return nil, err
	}
	reply, err := c.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(reply, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
