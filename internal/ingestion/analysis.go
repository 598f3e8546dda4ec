package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind-backend/internal/types"
)

// ConversationAnalysis is the structured result of the holistic extraction
// call. The shape is a hard contract: a response that fails validation is a
// permanent failure for the attempt, never a model retry, because a parse
// failure is not evidence of provider overload.
type ConversationAnalysis struct {
	Importance    float64                 `json:"importance"`
	Summary       string                  `json:"summary"`
	MemoryUnits   []ExtractedMemoryUnit   `json:"memory_units"`
	Concepts      []ExtractedConcept      `json:"concepts"`
	Relationships []ExtractedRelationship `json:"relationships"`
	GrowthSignals []ExtractedGrowthSignal `json:"growth_signals"`
}

type ExtractedMemoryUnit struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Sentiment  float64  `json:"sentiment"`
	Concepts   []string `json:"concepts"`
}

type ExtractedConcept struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Salience float64 `json:"salience"`
}

type ExtractedRelationship struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

type ExtractedGrowthSignal struct {
	Dimension string  `json:"dimension"`
	Delta     float64 `json:"delta"`
	Rationale string  `json:"rationale"`
}

// ParseAnalysis decodes model output into a validated analysis. Tolerates a
// markdown code fence around the JSON body but nothing else.
func ParseAnalysis(raw string) (*ConversationAnalysis, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("analysis response is empty")
	}
	var analysis ConversationAnalysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return nil, fmt.Errorf("analysis response is not valid JSON: %w", err)
	}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (a *ConversationAnalysis) Validate() error {
	if a.Importance < 0 || a.Importance > 1 {
		return fmt.Errorf("importance %v out of range [0,1]", a.Importance)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("summary is required")
	}
	conceptNames := map[string]bool{}
	for i, c := range a.Concepts {
		if NormalizeConceptName(c.Name) == "" {
			return fmt.Errorf("concept[%d]: name is required", i)
		}
		if c.Salience < 0 || c.Salience > 1 {
			return fmt.Errorf("concept[%d] %q: salience %v out of range [0,1]", i, c.Name, c.Salience)
		}
		conceptNames[NormalizeConceptName(c.Name)] = true
	}
	for i, m := range a.MemoryUnits {
		if strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("memory_unit[%d]: title and content are required", i)
		}
		if m.Importance < 0 || m.Importance > 1 {
			return fmt.Errorf("memory_unit[%d] %q: importance %v out of range [0,1]", i, m.Title, m.Importance)
		}
		if m.Sentiment < -1 || m.Sentiment > 1 {
			return fmt.Errorf("memory_unit[%d] %q: sentiment %v out of range [-1,1]", i, m.Title, m.Sentiment)
		}
	}
	for i, r := range a.Relationships {
		if !conceptNames[NormalizeConceptName(r.Source)] || !conceptNames[NormalizeConceptName(r.Target)] {
			return fmt.Errorf("relationship[%d] %s->%s references an unknown concept", i, r.Source, r.Target)
		}
		if NormalizeConceptName(r.Source) == NormalizeConceptName(r.Target) {
			return fmt.Errorf("relationship[%d]: self-edge on %q", i, r.Source)
		}
		if strings.TrimSpace(r.Type) == "" {
			return fmt.Errorf("relationship[%d] %s->%s: type is required", i, r.Source, r.Target)
		}
		if r.Strength < 0 || r.Strength > 1 {
			return fmt.Errorf("relationship[%d] %s->%s: strength %v out of range [0,1]", i, r.Source, r.Target, r.Strength)
		}
	}
	for i, g := range a.GrowthSignals {
		if !types.GrowthDimensions[g.Dimension] {
			return fmt.Errorf("growth_signal[%d]: unknown dimension %q", i, g.Dimension)
		}
		if g.Delta < -1 || g.Delta > 1 {
			return fmt.Errorf("growth_signal[%d] %s: delta %v out of range [-1,1]", i, g.Dimension, g.Delta)
		}
	}
	return nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json").
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
