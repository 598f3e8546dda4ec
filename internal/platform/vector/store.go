package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/evermind-backend/internal/platform/envutil"
	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
)

const (
	payloadNamespaceKey = "_em_namespace"
	payloadVectorIDKey  = "_em_vector_id"
	maxErrorBodyBytes   = 1024
)

// Qdrant point ids must be UUIDs; string vector ids are mapped onto
// deterministic UUIDv5 point ids and kept verbatim in the payload.
var pointIDNamespaceUUID = uuid.MustParse("7c1f8a4e-90d6-4f0b-ae1c-2b6d51c03a77")

// Point is one vector-store entry. Payload carries entity_id, entity_type,
// owner_user_id and the content fingerprint.
type Point struct {
	ID      string
	Values  []float32
	Payload map[string]any
}

// Entry is a stored point as returned by Scroll.
type Entry struct {
	VectorID string
	Dim      int
	Payload  map[string]any
}

type Match struct {
	VectorID string
	Score    float64
}

// Store is the vector-store surface the engine writes derivatives to and
// the reconciler enumerates.
type Store interface {
	Upsert(ctx context.Context, namespace string, points []Point) error
	Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	Scroll(ctx context.Context, namespace string, offset string, limit int) ([]Entry, string, error)
	DeleteIDs(ctx context.Context, namespace string, vectorIDs []string) error
}

type Config struct {
	URL             string
	APIKey          string
	Collection      string
	NamespacePrefix string
	VectorDim       int
	Distance        string
	Timeout         time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		URL:             envutil.Str("QDRANT_URL", ""),
		APIKey:          envutil.Str("QDRANT_API_KEY", ""),
		Collection:      envutil.Str("QDRANT_COLLECTION", "evermind"),
		NamespacePrefix: envutil.Str("QDRANT_NAMESPACE_PREFIX", "em"),
		VectorDim:       envutil.Int("QDRANT_VECTOR_DIM", 3072),
		Distance:        envutil.Str("QDRANT_DISTANCE", "Cosine"),
		Timeout:         envutil.Duration("QDRANT_TIMEOUT", 10*time.Second),
	}
}

type store struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	nsPrefix string
	http     *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

// NewStore verifies the collection exists, creating it when absent.
// Returns (nil, nil) when QDRANT_URL is unset.
func NewStore(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("vector collection required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	s := &store{
		log:      log.With("service", "QdrantVectorStore"),
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		nsPrefix: strings.TrimSpace(cfg.NamespacePrefix),
		http:     &http.Client{Timeout: cfg.Timeout},
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	s.log.Info("Qdrant vector store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *store) ensureCollection(ctx context.Context) error {
	var out envelope
	err := s.do(ctx, http.MethodGet, "/collections/"+s.cfg.Collection, nil, &out)
	if err == nil {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": s.cfg.Distance,
		},
	}
	if cErr := s.do(ctx, http.MethodPut, "/collections/"+s.cfg.Collection, body, &out); cErr != nil {
		return fmt.Errorf("ensure collection %q: %w", s.cfg.Collection, cErr)
	}
	return nil
}

func (s *store) Upsert(ctx context.Context, namespace string, points []Point) error {
	if s == nil || len(points) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	qdrantPoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		vectorID := strings.TrimSpace(p.ID)
		if vectorID == "" {
			return fmt.Errorf("vector id required")
		}
		if len(p.Values) == 0 {
			return fmt.Errorf("vector %q has empty values", vectorID)
		}
		if s.cfg.VectorDim > 0 && len(p.Values) != s.cfg.VectorDim {
			return fmt.Errorf("vector %q dimension mismatch: expected=%d got=%d", vectorID, s.cfg.VectorDim, len(p.Values))
		}
		payload := clonePayload(p.Payload)
		payload[payloadNamespaceKey] = ns
		payload[payloadVectorIDKey] = vectorID
		qdrantPoints = append(qdrantPoints, map[string]any{
			"id":      PointID(ns, vectorID),
			"vector":  p.Values,
			"payload": payload,
		})
	}

	var out envelope
	path := "/collections/" + s.cfg.Collection + "/points?wait=true"
	return s.do(ctx, http.MethodPut, path, map[string]any{"points": qdrantPoints}, &out)
}

func (s *store) Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error) {
	if s == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	if topK <= 0 {
		topK = 10
	}
	body := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"filter":       s.namespaceFilter(namespace, filter),
	}
	var out envelope
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.cfg.Collection+"/points/search", body, &out); err != nil {
		return nil, err
	}
	var items []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(out.Result, &items); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	matches := make([]Match, 0, len(items))
	for _, it := range items {
		id, _ := it.Payload[payloadVectorIDKey].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		matches = append(matches, Match{VectorID: id, Score: it.Score})
	}
	return matches, nil
}

// Scroll pages through every point in the namespace. An empty returned
// offset means the scan is complete.
func (s *store) Scroll(ctx context.Context, namespace string, offset string, limit int) ([]Entry, string, error) {
	if s == nil {
		return nil, "", fmt.Errorf("vector store unavailable")
	}
	if limit <= 0 {
		limit = 256
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
		"filter":       s.namespaceFilter(namespace, nil),
	}
	if strings.TrimSpace(offset) != "" {
		body["offset"] = offset
	}
	var out envelope
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.cfg.Collection+"/points/scroll", body, &out); err != nil {
		return nil, "", err
	}
	var result struct {
		Points []struct {
			Payload map[string]any  `json:"payload"`
			Vector  json.RawMessage `json:"vector"`
		} `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	if err := json.Unmarshal(out.Result, &result); err != nil {
		return nil, "", fmt.Errorf("decode scroll result: %w", err)
	}

	entries := make([]Entry, 0, len(result.Points))
	for _, p := range result.Points {
		id, _ := p.Payload[payloadVectorIDKey].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		entries = append(entries, Entry{
			VectorID: id,
			Dim:      vectorDim(p.Vector),
			Payload:  p.Payload,
		})
	}

	next := ""
	if len(result.NextPageOffset) > 0 && string(result.NextPageOffset) != "null" {
		next = strings.Trim(string(result.NextPageOffset), `"`)
	}
	return entries, next, nil
}

func (s *store) DeleteIDs(ctx context.Context, namespace string, vectorIDs []string) error {
	if s == nil || len(vectorIDs) == 0 {
		return nil
	}
	ns := s.qualifyNamespace(namespace)
	ids := make([]string, 0, len(vectorIDs))
	for _, v := range vectorIDs {
		if strings.TrimSpace(v) == "" {
			continue
		}
		ids = append(ids, PointID(ns, v))
	}
	if len(ids) == 0 {
		return nil
	}
	var out envelope
	path := "/collections/" + s.cfg.Collection + "/points/delete?wait=true"
	return s.do(ctx, http.MethodPost, path, map[string]any{"points": ids}, &out)
}

// PointID derives the deterministic qdrant point id for a namespaced
// vector id.
func PointID(qualifiedNamespace, vectorID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(qualifiedNamespace+"/"+vectorID)).String()
}

func (s *store) namespaceFilter(namespace string, extra map[string]any) map[string]any {
	must := []map[string]any{
		{"key": payloadNamespaceKey, "match": map[string]any{"value": s.qualifyNamespace(namespace)}},
	}
	for k, v := range extra {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}
	return map[string]any{"must": must}
}

func (s *store) qualifyNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return s.nsPrefix
	}
	if s.nsPrefix == "" {
		return ns
	}
	return s.nsPrefix + ":" + ns
}

func (s *store) do(ctx context.Context, method, path string, body any, out *envelope) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("qdrant %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func vectorDim(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return 0
	}
	return len(vec)
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
