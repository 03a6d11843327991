// Package openai implements the LLM enhancement and summarization passes
// using an OpenAI-compatible chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/models"
)

// Sentinel errors for chat completion failures.
var (
	ErrLLMUnavailable = errors.New("llm unreachable")
	ErrLLMTimeout     = errors.New("llm request timeout")
	ErrLLMAPI         = errors.New("llm api error")
)

const enhanceSystemPrompt = "You restructure raw speech transcripts. " +
	"Label each speaker turn as Speaker N and keep the original wording. " +
	"Return only the restructured transcript."

const summarizeSystemPrompt = "You summarize documents. " +
	"Produce a concise summary that preserves key facts, names, and figures. " +
	"Return only the summary."

// Enhancer implements models.Enhancer using chat completions.
type Enhancer struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewEnhancer creates a new chat-completions enhancer.
func NewEnhancer(cfg config.OpenAIConfig, timeout time.Duration) *Enhancer {
	return &Enhancer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
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
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (e *Enhancer) Enhance(ctx context.Context, chunk string, index, total int) (string, models.TokenUsage, error) {
	user := chunk
	if total > 1 {
		user = fmt.Sprintf("Transcript part %d of %d. Overlapping context may repeat.\n\n%s", index+1, total, chunk)
	}
	return e.complete(ctx, enhanceSystemPrompt, user)
}

func (e *Enhancer) Summarize(ctx context.Context, chunk string) (string, models.TokenUsage, error) {
	return e.complete(ctx, summarizeSystemPrompt, chunk)
}

func (e *Enhancer) complete(ctx context.Context, system, user string) (string, models.TokenUsage, error) {
	payload, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", models.TokenUsage{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", models.TokenUsage{}, fmt.Errorf("%w: status %d: %s", ErrLLMAPI, resp.StatusCode, detail)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", models.TokenUsage{}, fmt.Errorf("%w: empty choices", ErrLLMAPI)
	}

	usage := models.TokenUsage{
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
		TotalTokens:      cr.Usage.TotalTokens,
		CachedTokens:     cr.Usage.PromptTokensDetails.CachedTokens,
	}
	return cr.Choices[0].Message.Content, usage, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
}

var _ models.Enhancer = (*Enhancer)(nil)
