// Package llm talks to the remote chat-completion endpoint and extracts
// fenced payloads from its responses.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zjy-dev/sqlforge/internal/logger"
)

// Result holds one chat completion plus its token accounting.
type Result struct {
	Body       string
	UpTokens   int
	DownTokens int
}

// Client is the minimal surface the pipeline stages need from the remote
// model.
type Client interface {
	// Chat sends userPrompt (optionally preceded by systemPrompt) and
	// returns the completion body with its token counts. Network and
	// server errors are retried internally with bounded backoff; a call
	// either returns a non-empty body or fails permanently.
	Chat(systemPrompt, userPrompt string) (*Result, error)
}

// ChatClient is an OpenAI-compatible chat-completions client.
type ChatClient struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	log        *logger.Logger
	maxRetries uint64
}

// NewChatClient creates a client for the configured endpoint. The logger
// may be nil.
func NewChatClient(apiKey, model, baseURL string, log *logger.Logger) *ChatClient {
	return &ChatClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 120 * time.Second},
		log:        log,
		maxRetries: 3,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat implements Client.
func (c *ChatClient) Chat(systemPrompt, userPrompt string) (*Result, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	jsonBody, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var result *Result
	operation := func() error {
		res, err := c.doRequest(jsonBody)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, c.maxRetries)); err != nil {
		return nil, err
	}
	return result, nil
}

// doRequest performs a single HTTP round trip. Retryable failures are
// returned as plain errors, unrecoverable ones wrapped in
// backoff.Permanent.
func (c *ChatClient) doRequest(jsonBody []byte) (*Result, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.Warn("request failed, will retry: %v", err)
		}
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		reqErr := fmt.Errorf("api request failed with status %d: %s", resp.StatusCode, buf.String())
		// Server-side and rate-limit failures are worth retrying; other
		// statuses are client mistakes.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			if c.log != nil {
				c.log.Warn("retryable api failure: status %d", resp.StatusCode)
			}
			return nil, reqErr
		}
		return nil, backoff.Permanent(reqErr)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response body: %w", err))
	}

	if len(parsed.Choices) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("unexpected response format from api"))
	}
	body := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if body == "" {
		return nil, backoff.Permanent(fmt.Errorf("empty completion body"))
	}

	if c.log != nil {
		c.log.Debug("completion received: %d up tokens, %d down tokens",
			parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	}

	return &Result{
		Body:       body,
		UpTokens:   parsed.Usage.PromptTokens,
		DownTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// Model returns the configured model name.
func (c *ChatClient) Model() string {
	return c.model
}

// BaseURL returns the configured endpoint URL.
func (c *ChatClient) BaseURL() string {
	return c.baseURL
}
