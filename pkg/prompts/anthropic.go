package prompts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultModel   = "claude-haiku-4-5-20251001"
	apiVersion     = "2023-06-01"

	defaultTimeout       = 120 * time.Second
	defaultRetryInterval = 2 * time.Second
	maxRetries           = 4

	maxTokens = 4096
)

const systemPrompt = `You are a prompt engineer for Qwen-Image, an AI text-to-image generation model.
Generate vivid, detailed image generation prompts optimized for high-quality output.

Guidelines:
- Each prompt must be self-contained and richly descriptive.
- Focus on: visual style, lighting, mood, color palette, composition, specific details.
- Art style: semi-realistic digital art, high detail, professional quality.
- Do NOT include text, watermarks, or UI elements in prompt descriptions.`

const toolName = "generate_prompts"

// promptToolSchema is the input schema for the forced tool call; it makes
// the model return one string array per asset category.
var promptToolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "backgrounds": {"type": "array", "items": {"type": "string"}, "description": "Background/environment scene prompts"},
    "female": {"type": "array", "items": {"type": "string"}, "description": "Female outfit/costume prompts"},
    "male": {"type": "array", "items": {"type": "string"}, "description": "Male outfit/costume prompts"}
  },
  "required": ["backgrounds", "female", "male"]
}`)

// PromptSet holds generated prompt texts per asset category.
type PromptSet struct {
	Backgrounds []string `json:"backgrounds"`
	Female      []string `json:"female"`
	Male        []string `json:"male"`
}

// Logger is the minimal logging surface the generator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Options configures a Generator.
type Options struct {
	APIKey        string
	Model         string
	BaseURL       string
	HTTPClient    *http.Client
	RetryInterval time.Duration
	Logger        Logger
}

// Generator produces structured image prompts through the Anthropic
// Messages API using a forced tool call.
type Generator struct {
	apiKey        string
	model         string
	baseURL       string
	httpClient    *http.Client
	retryInterval time.Duration
	logger        Logger
}

// NewGenerator validates the options and returns a Generator.
func NewGenerator(opts Options) (*Generator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic api key is required")
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Generator{
		apiKey:        strings.TrimSpace(opts.APIKey),
		model:         model,
		baseURL:       base,
		httpClient:    httpClient,
		retryInterval: interval,
		logger:        logger,
	}, nil
}

type messagesRequest struct {
	Model      string      `json:"model"`
	MaxTokens  int         `json:"max_tokens"`
	System     string      `json:"system"`
	Messages   []message   `json:"messages"`
	Tools      []tool      `json:"tools"`
	ToolChoice *toolChoice `json:"tool_choice,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type messagesResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
}

// APIError carries a non-success response from the Messages API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("anthropic api error (status %d, %s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic api error: status %d", e.Status)
}

// retryable reports whether the request may be reissued: rate limits and
// overload responses only.
func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == 529
}

// Generate requests prompts for all three asset categories in a single
// structured-output call. Rate-limit and overload responses are retried
// with exponential backoff; every other failure is terminal.
func (g *Generator) Generate(ctx context.Context, vibeName, vibeDescription string, numAssets int) (PromptSet, error) {
	g.logger.Info("generating prompts", "vibe", vibeName, "num_assets", numAssets)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retryInterval

	var out PromptSet
	err := backoff.Retry(func() error {
		set, err := g.generateOnce(ctx, vibeName, vibeDescription, numAssets)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.retryable() {
				g.logger.Warn("prompt generation throttled, retrying", "status", apiErr.Status)
				return err
			}
			return backoff.Permanent(err)
		}
		out = set
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return PromptSet{}, err
	}

	g.logger.Info("prompts generated",
		"backgrounds", len(out.Backgrounds), "female", len(out.Female), "male", len(out.Male))
	return out, nil
}

func (g *Generator) generateOnce(ctx context.Context, vibeName, vibeDescription string, numAssets int) (PromptSet, error) {
	payload := messagesRequest{
		Model:     g.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages: []message{{
			Role:    "user",
			Content: userPrompt(vibeName, vibeDescription, numAssets),
		}},
		Tools: []tool{{
			Name:        toolName,
			Description: "Generate structured image generation prompts for each category.",
			InputSchema: promptToolSchema,
		}},
		ToolChoice: &toolChoice{Type: "tool", Name: toolName},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PromptSet{}, fmt.Errorf("marshal messages request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return PromptSet{}, fmt.Errorf("create messages request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return PromptSet{}, fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PromptSet{}, decodeAPIError(resp)
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PromptSet{}, fmt.Errorf("decode messages response: %w", err)
	}

	for _, block := range decoded.Content {
		if block.Type != "tool_use" || block.Name != toolName {
			continue
		}
		var set PromptSet
		if err := json.Unmarshal(block.Input, &set); err != nil {
			return PromptSet{}, fmt.Errorf("decode tool input: %w", err)
		}
		return set, nil
	}

	return PromptSet{}, errors.New("messages response contained no tool_use block")
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err := json.Unmarshal(payload, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func userPrompt(vibeName, vibeDescription string, numAssets int) string {
	return fmt.Sprintf(`Vibe: %q
Description: %s

Generate image prompts for this vibe across three categories:

1. "backgrounds" — %d unique background/environment scenes (1024x1024 square format).
   These should be varied environments matching the vibe aesthetic. No people in the scene.
   Focus on architecture, landscapes, interiors, or atmospheric settings.

2. "female" — %d female outfit/costume prompts (768x1024 portrait format).
   Full outfit displayed on a plain/neutral background. Fashion photography style.
   Show the complete clothing ensemble clearly. NO face or person — clothing only,
   displayed as if on an invisible mannequin or laid flat. Include accessories.

3. "male" — %d male outfit/costume prompts (768x1024 portrait format).
   Same style as female — full outfit on neutral background, clothing only, no face.
   Include accessories and footwear.

Each prompt should be 2-4 sentences of vivid visual description.`, vibeName, vibeDescription, numAssets, numAssets, numAssets)
}
