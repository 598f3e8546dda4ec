package vector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evermind-ai/evermind-backend/internal/platform/logger"
)

func testStore(t *testing.T, handler http.HandlerFunc) (Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := NewStore(log, Config{
		URL:             srv.URL,
		Collection:      "test",
		NamespacePrefix: "em",
		VectorDim:       3,
		Distance:        "Cosine",
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, srv
}

func okHandler(onRequest func(r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if onRequest != nil {
			onRequest(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{},"status":"ok"}`))
	}
}

func TestUpsertStampsNamespaceAndDeterministicPointID(t *testing.T) {
	var captured map[string]any
	s, _ := testStore(t, okHandler(func(r *http.Request, body []byte) {
		if strings.HasSuffix(r.URL.Path, "/points") && r.Method == http.MethodPut {
			_ = json.Unmarshal(body, &captured)
		}
	}))

	err := s.Upsert(context.Background(), "concept", []Point{{
		ID:      "concept:abc:ff00",
		Values:  []float32{0.1, 0.2, 0.3},
		Payload: map[string]any{"entity_id": "abc"},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("expected 1 point, got %v", captured["points"])
	}
	p := points[0].(map[string]any)
	if got, want := p["id"], PointID("em:concept", "concept:abc:ff00"); got != want {
		t.Fatalf("point id = %v, want %v", got, want)
	}
	payload := p["payload"].(map[string]any)
	if payload["_em_namespace"] != "em:concept" {
		t.Fatalf("namespace payload = %v", payload["_em_namespace"])
	}
	if payload["_em_vector_id"] != "concept:abc:ff00" {
		t.Fatalf("vector id payload = %v", payload["_em_vector_id"])
	}
	if payload["entity_id"] != "abc" {
		t.Fatalf("caller payload dropped: %v", payload)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s, _ := testStore(t, okHandler(nil))
	err := s.Upsert(context.Background(), "concept", []Point{{
		ID:     "concept:abc:ff00",
		Values: []float32{0.1, 0.2},
	}})
	if err == nil || !strings.Contains(err.Error(), "dimension mismatch") {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestScrollPagesUntilOffsetEmpty(t *testing.T) {
	page := 0
	s, _ := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/points/scroll") {
			_, _ = w.Write([]byte(`{"result":{},"status":"ok"}`))
			return
		}
		page++
		if page == 1 {
			_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"_em_vector_id":"a"},"vector":[0.1,0.2,0.3]}],"next_page_offset":"cursor-1"},"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"_em_vector_id":"b"},"vector":[0.1,0.2,0.3]}],"next_page_offset":null},"status":"ok"}`))
	})

	entries, next, err := s.Scroll(context.Background(), "concept", "", 10)
	if err != nil {
		t.Fatalf("scroll page 1: %v", err)
	}
	if len(entries) != 1 || entries[0].VectorID != "a" || entries[0].Dim != 3 {
		t.Fatalf("page 1 entries = %+v", entries)
	}
	if next != "cursor-1" {
		t.Fatalf("next offset = %q", next)
	}

	entries, next, err = s.Scroll(context.Background(), "concept", next, 10)
	if err != nil {
		t.Fatalf("scroll page 2: %v", err)
	}
	if len(entries) != 1 || entries[0].VectorID != "b" {
		t.Fatalf("page 2 entries = %+v", entries)
	}
	if next != "" {
		t.Fatalf("expected empty offset at end, got %q", next)
	}
}

func TestDeleteIDsMapsToPointIDs(t *testing.T) {
	var captured map[string]any
	s, _ := testStore(t, okHandler(func(r *http.Request, body []byte) {
		if strings.HasSuffix(r.URL.Path, "/points/delete") {
			_ = json.Unmarshal(body, &captured)
		}
	}))

	if err := s.DeleteIDs(context.Background(), "concept", []string{"x", " ", "y"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, ok := captured["points"].([]any)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected 2 point ids, got %v", captured["points"])
	}
	if ids[0] != PointID("em:concept", "x") || ids[1] != PointID("em:concept", "y") {
		t.Fatalf("point ids = %v", ids)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	calls := 0
	s, _ := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":{},"status":"ok"}`))
			return
		}
		http.Error(w, `{"status":{"error":"wrong shard"}}`, http.StatusConflict)
	})

	err := s.Upsert(context.Background(), "concept", []Point{{
		ID:     "concept:abc:ff00",
		Values: []float32{0.1, 0.2, 0.3},
	}})
	if err == nil || !strings.Contains(err.Error(), "status=409") {
		t.Fatalf("expected status surfaced, got %v", err)
	}
}
