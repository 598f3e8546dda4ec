package ingestion

import (
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

const analysisSystemPrompt = `You analyze one finished conversation between a user and an assistant and extract structured knowledge about the user.

Respond with a single JSON object and nothing else:
{
  "importance": <0..1 overall significance of this conversation>,
  "summary": "<2-4 sentence natural-language summary>",
  "memory_units": [{"title": "...", "content": "...", "importance": <0..1>, "sentiment": <-1..1>, "concepts": ["<concept name>", ...]}],
  "concepts": [{"name": "...", "type": "<person|place|activity|goal|value|theme|other>", "salience": <0..1>}],
  "relationships": [{"source": "<concept name>", "target": "<concept name>", "type": "<verb phrase in snake_case>", "strength": <0..1>}],
  "growth_signals": [{"dimension": "<know_self|know_world|act_self|act_world|show_self|show_world>", "delta": <-1..1>, "rationale": "..."}]
}

Every relationship source and target must appear in "concepts". Extract only what the transcript supports; empty arrays are fine.`

// BuildAnalysisRequest assembles the single holistic extraction call for an
// ended conversation. Prior profile context steers extraction toward
// continuity with what is already known about the user.
func BuildAnalysisRequest(profile *types.UserProfile, messages []*types.Message) llm.GenerateRequest {
	var b strings.Builder
	if profile != nil {
		if strings.TrimSpace(profile.MemoryProfile) != "" {
			b.WriteString("Known user profile:\n")
			b.WriteString(strings.TrimSpace(profile.MemoryProfile))
			b.WriteString("\n\n")
		}
		if strings.TrimSpace(profile.OntologySummary) != "" {
			b.WriteString("Known ontology summary:\n")
			b.WriteString(strings.TrimSpace(profile.OntologySummary))
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Transcript:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return llm.GenerateRequest{
		System:      analysisSystemPrompt,
		User:        b.String(),
		Temperature: 0.2,
	}
}
