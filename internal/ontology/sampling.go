package ontology

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/types"
)

// SampleEntity is one entity offered to the foundation call.
type SampleEntity struct {
	ID   uuid.UUID
	Kind string // concept|memory_unit
	Text string
}

// SampleCharBudget bounds the foundation prompt. Enforced before the model
// is invoked, never after.
func SampleCharBudget() int {
	return envutil.Int("ONTOLOGY_SAMPLE_CHAR_BUDGET", 16000)
}

// SampleForFoundation picks a reproducible subset of the period's entities
// that fits the character budget. Order is the FNV-1a hash of the entity id,
// with the id itself as the tie-break, so the same input set always yields
// the same sample regardless of query order.
func SampleForFoundation(concepts []*types.Concept, units []*types.MemoryUnit, charBudget int) []SampleEntity {
	if charBudget <= 0 {
		charBudget = 16000
	}
	all := make([]SampleEntity, 0, len(concepts)+len(units))
	for _, c := range concepts {
		if c == nil || c.ID == uuid.Nil {
			continue
		}
		all = append(all, SampleEntity{
			ID:   c.ID,
			Kind: "concept",
			Text: fmt.Sprintf("concept %q (type=%s, salience=%.2f)", c.Name, c.Type, c.Salience),
		})
	}
	for _, u := range units {
		if u == nil || u.ID == uuid.Nil {
			continue
		}
		content := u.Content
		if len(content) > 280 {
			content = content[:280]
		}
		all = append(all, SampleEntity{
			ID:   u.ID,
			Kind: "memory_unit",
			Text: fmt.Sprintf("memory %q: %s", u.Title, content),
		})
	}

	sort.Slice(all, func(i, j int) bool {
		hi, hj := idHash(all[i].ID), idHash(all[j].ID)
		if hi != hj {
			return hi < hj
		}
		return strings.Compare(all[i].ID.String(), all[j].ID.String()) < 0
	})

	used := 0
	out := make([]SampleEntity, 0, len(all))
	for _, e := range all {
		cost := len(e.Text) + 1
		if used+cost > charBudget {
			break
		}
		used += cost
		out = append(out, e)
	}
	return out
}

func idHash(id uuid.UUID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return h.Sum64()
}
