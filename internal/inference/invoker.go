package inference

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/observability"
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
	"github.com/evermind-ai/evermind-backend/internal/repos"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

type InvokerConfig struct {
	// Models is the fallback chain: primary first, then genuinely different
	// model identifiers. Duplicates are dropped at construction so a retry
	// can never burn budget re-asking the model that just failed.
	Models []string
	// Budget caps attempts per Invoke call. Attempts beyond the chain
	// length are impossible, so the effective cap is min(Budget, len(Models)).
	Budget      int
	BaseBackoff time.Duration
	CallTimeout time.Duration
}

func InvokerConfigFromEnv() InvokerConfig {
	models := envutil.List("LLM_MODEL_CHAIN")
	if len(models) == 0 {
		models = []string{"gpt-4o", "gpt-4o-mini"}
	}
	return InvokerConfig{
		Models:      models,
		Budget:      envutil.Int("LLM_RETRY_BUDGET", 2),
		BaseBackoff: envutil.Duration("LLM_RETRY_BACKOFF", 500*time.Millisecond),
		CallTimeout: llm.CallTimeout(),
	}
}

// CallMeta attributes the audit rows written for one logical call.
type CallMeta struct {
	CallType       string
	UserID         *uuid.UUID
	ConversationID *uuid.UUID
	CycleID        *uuid.UUID
}

// Invoker drives one logical model call through the fallback chain. Every
// attempt, success or failure, writes one immutable LLMInteraction row
// before the caller sees the outcome.
type Invoker struct {
	provider     llm.Provider
	interactions repos.LLMInteractionRepo
	cfg          InvokerConfig
	log          *logger.Logger
	sleep        func(time.Duration)
}

func NewInvoker(provider llm.Provider, interactions repos.LLMInteractionRepo, cfg InvokerConfig, baseLog *logger.Logger) *Invoker {
	if cfg.Budget <= 0 {
		cfg.Budget = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	cfg.Models = dedupeModels(cfg.Models)
	return &Invoker{
		provider:     provider,
		interactions: interactions,
		cfg:          cfg,
		log:          baseLog.With("component", "LLMInvoker"),
		sleep:        time.Sleep,
	}
}

func (iv *Invoker) Invoke(ctx context.Context, req llm.GenerateRequest, meta CallMeta) (llm.GenerateResult, error) {
	if len(iv.cfg.Models) == 0 {
		return llm.GenerateResult{}, &ExhaustedError{Last: errors.New("empty model chain")}
	}
	budget := iv.cfg.Budget
	if budget > len(iv.cfg.Models) {
		budget = len(iv.cfg.Models)
	}
	promptChars := len(req.System) + len(req.User)
	for _, m := range req.History {
		promptChars += len(m.Content)
	}

	attempted := make([]string, 0, budget)
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		model := iv.cfg.Models[attempt]
		attempted = append(attempted, model)

		callCtx, cancel := context.WithTimeout(ctx, iv.cfg.CallTimeout)
		start := time.Now()
		result, err := iv.provider.Generate(callCtx, model, req)
		cancel()
		latency := time.Since(start)

		iv.audit(ctx, meta, model, attempt+1, promptChars, result, err, latency)

		if err == nil {
			return result, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) {
			iv.log.Warn("model call failed fatally",
				"call_type", meta.CallType, "model", model, "code", llm.ErrorCode(err))
			return llm.GenerateResult{}, err
		}
		iv.log.Warn("model call failed, switching to fallback",
			"call_type", meta.CallType, "model", model, "code", llm.ErrorCode(err), "attempt", attempt+1)
		if attempt+1 < budget {
			iv.sleep(backoff(iv.cfg.BaseBackoff, attempt))
		}
	}
	return llm.GenerateResult{}, &ExhaustedError{Attempted: attempted, Last: lastErr}
}

// Embed proxies to the provider. Embedding calls are cheap and carry no
// fallback chain; callers retry through the job queue instead.
func (iv *Invoker) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, iv.cfg.CallTimeout)
	defer cancel()
	return iv.provider.Embed(callCtx, inputs)
}

func (iv *Invoker) audit(ctx context.Context, meta CallMeta, model string, attempt, promptChars int, result llm.GenerateResult, callErr error, latency time.Duration) {
	row := &types.LLMInteraction{
		UserID:         meta.UserID,
		ConversationID: meta.ConversationID,
		CycleID:        meta.CycleID,
		CallType:       meta.CallType,
		Model:          model,
		Attempt:        attempt,
		Status:         types.LLMStatusSuccess,
		PromptChars:    promptChars,
		ResponseChars:  len(result.Text),
		LatencyMs:      latency.Milliseconds(),
	}
	if callErr != nil {
		row.Status = types.LLMStatusError
		row.ErrorCode = llm.ErrorCode(callErr)
		row.Error = callErr.Error()
	}
	// Audit uses a background-capable context so a cancelled call still
	// leaves its row behind.
	if _, err := iv.interactions.Create(context.WithoutCancel(ctx), nil, row); err != nil {
		iv.log.Error("llm audit row write failed", "call_type", meta.CallType, "model", model, "error", err)
	}
	observability.ObserveLLM(model, meta.CallType, row.Status, latency)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}

func dedupeModels(models []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
