package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type scriptedProvider struct {
	calls   []string
	results map[string]error
	text    string
}

func (p *scriptedProvider) Generate(_ context.Context, model string, _ llm.GenerateRequest) (llm.GenerateResult, error) {
	p.calls = append(p.calls, model)
	if err, ok := p.results[model]; ok && err != nil {
		return llm.GenerateResult{}, err
	}
	return llm.GenerateResult{Text: p.text, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type memInteractions struct {
	rows []*types.LLMInteraction
}

func (m *memInteractions) Create(_ context.Context, _ *gorm.DB, row *types.LLMInteraction) (*types.LLMInteraction, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	m.rows = append(m.rows, row)
	return row, nil
}

func (m *memInteractions) ListByConversation(_ context.Context, _ *gorm.DB, _ uuid.UUID) ([]*types.LLMInteraction, error) {
	return m.rows, nil
}

func newTestInvoker(t *testing.T, provider llm.Provider, sink *memInteractions, models []string, budget int) *Invoker {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	iv := NewInvoker(provider, sink, InvokerConfig{
		Models:      models,
		Budget:      budget,
		BaseBackoff: time.Millisecond,
		CallTimeout: time.Second,
	}, log)
	iv.sleep = func(time.Duration) {}
	return iv
}

func TestInvokeFallsBackToDistinctModel(t *testing.T) {
	provider := &scriptedProvider{
		results: map[string]error{
			"model-a": &llm.Error{Code: "provider_overloaded", Status: 503, Retryable: true, Err: fmt.Errorf("overloaded")},
		},
		text: "ok",
	}
	sink := &memInteractions{}
	iv := newTestInvoker(t, provider, sink, []string{"model-a", "model-b"}, 2)

	result, err := iv.Invoke(context.Background(), llm.GenerateRequest{User: "hello"}, CallMeta{CallType: "holistic_analysis"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if len(provider.calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(provider.calls))
	}
	if provider.calls[0] == provider.calls[1] {
		t.Fatalf("retry reused the same model %q", provider.calls[0])
	}
	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(sink.rows))
	}
	if sink.rows[0].Status != types.LLMStatusError || sink.rows[0].ErrorCode != "provider_overloaded" {
		t.Fatalf("first audit row = %+v", sink.rows[0])
	}
	if sink.rows[1].Status != types.LLMStatusSuccess || sink.rows[1].Attempt != 2 {
		t.Fatalf("second audit row = %+v", sink.rows[1])
	}
}

func TestInvokeFatalErrorStopsImmediately(t *testing.T) {
	fatal := &llm.Error{Code: "insufficient_quota", Status: 429, Retryable: false, Err: fmt.Errorf("quota exhausted")}
	provider := &scriptedProvider{results: map[string]error{"model-a": fatal}}
	sink := &memInteractions{}
	iv := newTestInvoker(t, provider, sink, []string{"model-a", "model-b"}, 2)

	_, err := iv.Invoke(context.Background(), llm.GenerateRequest{User: "hi"}, CallMeta{CallType: "holistic_analysis"})
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("fatal error must not be reported as budget exhaustion")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("fatal error retried: %v", provider.calls)
	}
	if len(sink.rows) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(sink.rows))
	}
}

func TestInvokeExhaustionNamesAttemptedModels(t *testing.T) {
	overloaded := func(model string) error {
		return &llm.Error{Code: "rate_limited", Status: 429, Retryable: true, Err: fmt.Errorf("%s rate limited", model)}
	}
	provider := &scriptedProvider{
		results: map[string]error{
			"model-a": overloaded("model-a"),
			"model-b": overloaded("model-b"),
		},
	}
	sink := &memInteractions{}
	iv := newTestInvoker(t, provider, sink, []string{"model-a", "model-b"}, 2)

	_, err := iv.Invoke(context.Background(), llm.GenerateRequest{User: "hi"}, CallMeta{CallType: "foundation"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(exhausted.Attempted) != 2 || exhausted.Attempted[0] != "model-a" || exhausted.Attempted[1] != "model-b" {
		t.Fatalf("attempted = %v", exhausted.Attempted)
	}
	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(sink.rows))
	}
}

func TestInvokerDropsDuplicateChainEntries(t *testing.T) {
	provider := &scriptedProvider{
		results: map[string]error{
			"model-a": &llm.Error{Code: "timeout", Retryable: true, Err: fmt.Errorf("timeout")},
		},
	}
	sink := &memInteractions{}
	iv := newTestInvoker(t, provider, sink, []string{"model-a", "model-a", "model-a"}, 3)

	_, err := iv.Invoke(context.Background(), llm.GenerateRequest{User: "hi"}, CallMeta{CallType: "foundation"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("duplicate chain entries were retried: %v", provider.calls)
	}
}

func TestConfigFallsBackToDefaultChainWhenUnset(t *testing.T) {
	for name, raw := range map[string]string{"unset": "", "blank entries": " , ,"} {
		t.Setenv("LLM_MODEL_CHAIN", raw)
		cfg := InvokerConfigFromEnv()
		if len(cfg.Models) != 2 || cfg.Models[0] != "gpt-4o" || cfg.Models[1] != "gpt-4o-mini" {
			t.Fatalf("%s: models = %v", name, cfg.Models)
		}
	}

	t.Setenv("LLM_MODEL_CHAIN", "model-a, model-b")
	cfg := InvokerConfigFromEnv()
	if len(cfg.Models) != 2 || cfg.Models[0] != "model-a" || cfg.Models[1] != "model-b" {
		t.Fatalf("configured chain not honored: %v", cfg.Models)
	}
}

func TestInvokeEmptyChainReportsConfiguration(t *testing.T) {
	provider := &scriptedProvider{}
	sink := &memInteractions{}
	iv := newTestInvoker(t, provider, sink, nil, 2)

	_, err := iv.Invoke(context.Background(), llm.GenerateRequest{User: "hi"}, CallMeta{CallType: "foundation"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Last == nil || !strings.Contains(exhausted.Last.Error(), "model chain") {
		t.Fatalf("Last should name the configuration problem, got %v", exhausted.Last)
	}
	if len(provider.calls) != 0 || len(sink.rows) != 0 {
		t.Fatalf("empty chain must not reach the provider: calls=%v rows=%d", provider.calls, len(sink.rows))
	}
}
