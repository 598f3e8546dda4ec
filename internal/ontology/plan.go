package ontology

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind-backend/internal/ingestion"
	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
)

// Per-cycle bounds on structural change. A cycle restructures incrementally;
// anything the caps cut off is picked up by a later cycle.
func MaxMergesPerCycle() int         { return envutil.Int("ONTOLOGY_MAX_MERGES", 20) }
func MaxStrategicRelationships() int { return envutil.Int("ONTOLOGY_MAX_RELATIONSHIPS", 30) }

// OptimizationPlan is the validated output of the foundation stage. The
// later stages only materialize what the plan names; they make no model
// calls of their own.
type OptimizationPlan struct {
	Communities   []PlannedCommunity    `json:"communities"`
	Merges        []PlannedMerge        `json:"merges"`
	Relationships []PlannedRelationship `json:"relationships"`
}

type PlannedCommunity struct {
	Theme               string   `json:"theme"`
	StrategicImportance int      `json:"strategic_importance"`
	Concepts            []string `json:"concepts"`
}

type PlannedMerge struct {
	Survivor   string   `json:"survivor"`
	Duplicates []string `json:"duplicates"`
}

type PlannedRelationship struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// ParsePlan decodes and validates foundation output. Structural violations
// (bad JSON, out-of-range scores) are errors; references to concepts outside
// the known set are dropped, since the model only ever saw a sample.
func ParsePlan(raw string, knownConcepts map[string]bool) (*OptimizationPlan, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("foundation response is empty")
	}
	var plan OptimizationPlan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("foundation response is not valid JSON: %w", err)
	}
	if err := plan.validate(); err != nil {
		return nil, err
	}
	plan.resolve(knownConcepts)
	plan.clamp(MaxMergesPerCycle(), MaxStrategicRelationships())
	return &plan, nil
}

func (p *OptimizationPlan) validate() error {
	for i, c := range p.Communities {
		if strings.TrimSpace(c.Theme) == "" {
			return fmt.Errorf("community[%d]: theme is required", i)
		}
		if c.StrategicImportance < 1 || c.StrategicImportance > 10 {
			return fmt.Errorf("community[%d] %q: strategic_importance %d out of range [1,10]", i, c.Theme, c.StrategicImportance)
		}
	}
	for i, m := range p.Merges {
		if strings.TrimSpace(m.Survivor) == "" || len(m.Duplicates) == 0 {
			return fmt.Errorf("merge[%d]: survivor and duplicates are required", i)
		}
	}
	for i, r := range p.Relationships {
		if strings.TrimSpace(r.Type) == "" {
			return fmt.Errorf("relationship[%d] %s->%s: type is required", i, r.Source, r.Target)
		}
		if r.Strength < 0 || r.Strength > 1 {
			return fmt.Errorf("relationship[%d] %s->%s: strength %v out of range [0,1]", i, r.Source, r.Target, r.Strength)
		}
	}
	return nil
}

// resolve drops references to concepts the relational store does not hold
// and normalizes every surviving name.
func (p *OptimizationPlan) resolve(known map[string]bool) {
	communities := p.Communities[:0]
	for _, c := range p.Communities {
		members := make([]string, 0, len(c.Concepts))
		for _, name := range c.Concepts {
			n := ingestion.NormalizeConceptName(name)
			if known[n] {
				members = append(members, n)
			}
		}
		if len(members) == 0 {
			continue
		}
		c.Concepts = members
		communities = append(communities, c)
	}
	p.Communities = communities

	claimed := map[string]bool{}
	merges := p.Merges[:0]
	for _, m := range p.Merges {
		survivor := ingestion.NormalizeConceptName(m.Survivor)
		if !known[survivor] || claimed[survivor] {
			continue
		}
		dups := make([]string, 0, len(m.Duplicates))
		for _, d := range m.Duplicates {
			n := ingestion.NormalizeConceptName(d)
			if n == "" || n == survivor || !known[n] || claimed[n] {
				continue
			}
			claimed[n] = true
			dups = append(dups, n)
		}
		if len(dups) == 0 {
			continue
		}
		claimed[survivor] = true
		m.Survivor = survivor
		m.Duplicates = dups
		merges = append(merges, m)
	}
	p.Merges = merges

	rels := p.Relationships[:0]
	for _, r := range p.Relationships {
		src := ingestion.NormalizeConceptName(r.Source)
		dst := ingestion.NormalizeConceptName(r.Target)
		if src == dst || !known[src] || !known[dst] {
			continue
		}
		r.Source = src
		r.Target = dst
		rels = append(rels, r)
	}
	p.Relationships = rels
}

func (p *OptimizationPlan) clamp(maxMerges, maxRels int) {
	total := 0
	merges := p.Merges[:0]
	for _, m := range p.Merges {
		if total >= maxMerges {
			break
		}
		if total+len(m.Duplicates) > maxMerges {
			m.Duplicates = m.Duplicates[:maxMerges-total]
		}
		total += len(m.Duplicates)
		merges = append(merges, m)
	}
	p.Merges = merges
	if len(p.Relationships) > maxRels {
		p.Relationships = p.Relationships[:maxRels]
	}
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
