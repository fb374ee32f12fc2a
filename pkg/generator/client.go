package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"career-docgen/pkg/job"
)

const (
	// ClaudeAPIEndpoint is the Anthropic API endpoint.
	ClaudeAPIEndpoint = "https://api.anthropic.com/v1/messages"
	// ClaudeModel is the default model.
	ClaudeModel = "claude-sonnet-4-20250514"
	// ClaudeAPIVersion is the API version.
	ClaudeAPIVersion = "2023-06-01"
)

// Client generates career documents through the Claude API. It is the
// system's one long-blocking collaborator; callers bound it with a context
// deadline and classify failures through Retryable.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	endpoint   string
}

// NewClient creates a new Claude API client.
func NewClient(apiKey, model string) (client *Client) {
	if model == "" {
		model = ClaudeModel
	}
	client = &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: ClaudeAPIEndpoint,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	return client
}

// Generate produces one document of the given kind from the stored input
// payload. The payload is trusted as validated at submission time.
func (c *Client) Generate(ctx context.Context, kind job.Kind, input json.RawMessage) (doc *Document, err error) {
	prompt, err := buildPrompt(kind, input)
	if err != nil {
		// A payload the prompt builder cannot use will never work; terminal.
		err = errors.Wrap(err, "failed to build prompt")
		return doc, err
	}

	responseText, usage, err := c.sendRequest(ctx, prompt)
	if err != nil {
		err = errors.Wrapf(err, "%s generation request failed", kind)
		return doc, err
	}

	// Clean markdown code fences if present.
	cleanedText := stripMarkdownCodeFences(responseText)

	if !json.Valid([]byte(cleanedText)) {
		// Malformed model output; redelivering the same input is not going
		// to fix it.
		err = errors.Errorf("model returned non-JSON output: %s", truncate(cleanedText, 200))
		return doc, err
	}

	doc = &Document{
		Content:      json.RawMessage(cleanedText),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	return doc, err
}

// sendRequest sends a request to the Claude API.
func (c *Client) sendRequest(ctx context.Context, prompt string) (responseText string, usage Usage, err error) {
	claudeReq := ClaudeRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []Message{
			{
				Role:    "user",
				Content: prompt,
			},
		},
	}

	var reqBody []byte
	reqBody, err = json.Marshal(claudeReq)
	if err != nil {
		err = errors.Wrap(err, "failed to marshal request")
		return responseText, usage, err
	}

	var httpReq *http.Request
	httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		err = errors.Wrap(err, "failed to create HTTP request")
		return responseText, usage, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", ClaudeAPIVersion)

	var resp *http.Response
	resp, err = c.httpClient.Do(httpReq)
	if err != nil {
		// Network failures and context deadlines are worth a redelivery.
		err = retryable(errors.Wrap(err, "HTTP request failed"))
		return responseText, usage, err
	}
	defer resp.Body.Close()

	var respBody []byte
	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		err = retryable(errors.Wrap(err, "failed to read response body"))
		return responseText, usage, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errors.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = retryable(err)
		}
		return responseText, usage, err
	}

	var claudeResp ClaudeResponse
	err = json.Unmarshal(respBody, &claudeResp)
	if err != nil {
		err = errors.Wrapf(err, "failed to parse Claude response: %s", truncate(string(respBody), 500))
		return responseText, usage, err
	}

	if len(claudeResp.Content) == 0 {
		err = errors.New("no content in Claude response")
		return responseText, usage, err
	}

	responseText = claudeResp.Content[0].Text
	usage = claudeResp.Usage

	return responseText, usage, err
}

// stripMarkdownCodeFences removes markdown code fences from JSON responses.
func stripMarkdownCodeFences(text string) (cleaned string) {
	cleaned = text

	if len(cleaned) > 7 && cleaned[:7] == "```json" {
		start := 7
		for start < len(cleaned) && cleaned[start] != '\n' {
			start++
		}
		start++ // skip the newline

		end := len(cleaned)
		if end > 3 && cleaned[end-3:] == "```" {
			end -= 3
		}

		for end > 0 && (cleaned[end-1] == '\n' || cleaned[end-1] == ' ' || cleaned[end-1] == '\r') {
			end--
		}

		// A fence with no body, or no newline after the opening fence,
		// leaves nothing to extract.
		if start > end {
			return ""
		}

		cleaned = cleaned[start:end]
	}

	return cleaned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
