package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
)

// Provider is the narrow capability the engine depends on. The model
// identifier is a per-call parameter: a provider instance carries no
// mutable "current model" state, so fallback switching can never silently
// reuse the primary model.
type Provider interface {
	Generate(ctx context.Context, model string, req GenerateRequest) (GenerateResult, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Message struct {
	Role    string
	Content string
}

type GenerateRequest struct {
	System      string
	History     []Message
	User        string
	Temperature float32
	MaxTokens   int
}

type GenerateResult struct {
	Text         string
	FinishReason string
}

// Error is the provider error surface: a stable code plus a retryable
// classification the invocation layer branches on.
type Error struct {
	Code      string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm provider: code=%s status=%d retryable=%t: %v", e.Code, e.Status, e.Retryable, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a retryable provider
// classification. Unknown errors are treated as fatal.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if err != nil {
		return "unknown"
	}
	return ""
}

type openAIProvider struct {
	log        *logger.Logger
	client     *openai.Client
	embedModel string
}

func NewOpenAIProvider(log *logger.Logger) (Provider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.Str("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := envutil.Str("OPENAI_BASE_URL", ""); base != "" {
		cfg.BaseURL = base
	}

	return &openAIProvider{
		log:        log.With("client", "OpenAIProvider"),
		client:     openai.NewClientWithConfig(cfg),
		embedModel: envutil.Str("OPENAI_EMBED_MODEL", string(openai.LargeEmbedding3)),
	}, nil
}

func (p *openAIProvider) Generate(ctx context.Context, model string, req GenerateRequest) (GenerateResult, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return GenerateResult{}, &Error{Code: "invalid_request", Retryable: false, Err: fmt.Errorf("model id required")}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return GenerateResult{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResult{}, &Error{Code: "empty_response", Retryable: true, Err: fmt.Errorf("no choices returned")}
	}
	choice := resp.Choices[0]
	return GenerateResult{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func (p *openAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embedModel),
		Input: inputs,
	})
	if err != nil {
		return nil, classify(err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// classify maps transport and API failures onto the engine's retryable vs
// fatal taxonomy. Overload, rate limit and transient network errors retry
// against a fallback model; auth failures, invalid requests and exhausted
// quota do not.
func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErrCode(apiErr)
		switch {
		case code == "insufficient_quota":
			return &Error{Code: code, Status: apiErr.HTTPStatusCode, Retryable: false, Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &Error{Code: "rate_limited", Status: 429, Retryable: true, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Code: "provider_overloaded", Status: apiErr.HTTPStatusCode, Retryable: true, Err: err}
		default:
			if code == "" {
				code = "invalid_request"
			}
			return &Error{Code: code, Status: apiErr.HTTPStatusCode, Retryable: false, Err: err}
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		retryable := reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
		return &Error{Code: "request_failed", Status: reqErr.HTTPStatusCode, Retryable: retryable, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: "timeout", Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Code: "network", Retryable: true, Err: err}
	}
	return &Error{Code: "unknown", Retryable: false, Err: err}
}

func apiErrCode(apiErr *openai.APIError) string {
	switch c := apiErr.Code.(type) {
	case string:
		return c
	case fmt.Stringer:
		return c.String()
	default:
		return ""
	}
}

// CallTimeout is the hard wall-clock bound applied to every provider call.
func CallTimeout() time.Duration {
	return envutil.Duration("LLM_CALL_TIMEOUT", 120*time.Second)
}
