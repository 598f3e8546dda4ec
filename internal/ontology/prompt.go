package ontology

import (
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind-backend/internal/platform/llm"
)

const foundationSystemPrompt = `You reorganize a user's personal knowledge graph. Given a sample of their concepts and memories from one period, propose a restructuring plan.

Respond with a single JSON object and nothing else:
{
  "communities": [{"theme": "<short theme>", "strategic_importance": <1..10>, "concepts": ["<concept name>", ...]}],
  "merges": [{"survivor": "<concept name to keep>", "duplicates": ["<near-duplicate concept name>", ...]}],
  "relationships": [{"source": "<concept name>", "target": "<concept name>", "type": "<verb phrase in snake_case>", "strength": <0..1>}]
}

Group concepts into a handful of coherent communities. Merge only genuine duplicates (same real-world referent, different phrasing). Propose relationships only where the sampled memories support a strategic connection. Empty arrays are fine.`

// BuildFoundationRequest assembles the single bounded foundation call for a
// cycle. maxTokens caps the response; the sample already capped the prompt.
func BuildFoundationRequest(sample []SampleEntity, maxMerges, maxRelationships int) llm.GenerateRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose at most %d merged duplicates and at most %d relationships.\n\n", maxMerges, maxRelationships)
	b.WriteString("Entities from this period:\n")
	for _, e := range sample {
		b.WriteString("- ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return llm.GenerateRequest{
		System:      foundationSystemPrompt,
		User:        b.String(),
		Temperature: 0.1,
		MaxTokens:   4096,
	}
}
