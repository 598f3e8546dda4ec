package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Deterministic entity ids make every persistence step idempotent: re-running
// a job re-derives the same ids and the upserts collapse into no-ops.
var (
	conceptIDNamespace     = uuid.MustParse("5b8c2f1d-3e47-4a09-b1c5-9d2e6f70a314")
	memoryUnitIDNamespace  = uuid.MustParse("9e4d7a20-6c15-4f3b-8a92-1b0c5d8e7f46")
	growthEventIDNamespace = uuid.MustParse("2f6a9c83-0d51-47e2-b7a4-c39e8d1f5b60")
)

// NormalizeConceptName collapses case and internal whitespace so "Marathon
// Training" and "marathon  training" derive the same concept id.
func NormalizeConceptName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}

func ConceptID(userID uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(conceptIDNamespace, []byte(userID.String()+"/"+NormalizeConceptName(name)))
}

func MemoryUnitID(conversationID uuid.UUID, fingerprint string) uuid.UUID {
	return uuid.NewSHA1(memoryUnitIDNamespace, []byte(conversationID.String()+"/"+fingerprint))
}

func GrowthEventID(conversationID uuid.UUID, dimension string) uuid.UUID {
	return uuid.NewSHA1(growthEventIDNamespace, []byte(conversationID.String()+"/"+dimension))
}

// Fingerprint hashes content for dedup and embedding staleness checks.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:16])
}
