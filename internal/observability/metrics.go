package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Small in-process metrics registry. Counters and latency sums keyed by
// label tuples, exposed as a JSON snapshot on the admin surface.

type key struct {
	name   string
	labels string
}

type bucket struct {
	Count     int64
	SumMillis int64
}

var (
	mu      sync.Mutex
	buckets = map[key]*bucket{}
)

func observe(name string, labels []string, d time.Duration) {
	k := key{name: name, labels: strings.Join(labels, "|")}
	mu.Lock()
	defer mu.Unlock()
	b, ok := buckets[k]
	if !ok {
		b = &bucket{}
		buckets[k] = b
	}
	b.Count++
	b.SumMillis += d.Milliseconds()
}

// ObserveLLM records one model call attempt.
func ObserveLLM(model, callType, status string, d time.Duration) {
	observe("llm_request", []string{model, callType, status}, d)
}

// ObserveJob records one completed job dispatch.
func ObserveJob(jobType, status string, d time.Duration) {
	observe("job_run", []string{jobType, status}, d)
}

// ObserveReconcile records one reconciler rule pass.
func ObserveReconcile(rule string, repaired int, d time.Duration) {
	observe("reconcile_"+rule, []string{rule}, d)
	mu.Lock()
	defer mu.Unlock()
	k := key{name: "reconcile_" + rule + "_repaired", labels: rule}
	b, ok := buckets[k]
	if !ok {
		b = &bucket{}
		buckets[k] = b
	}
	b.Count += int64(repaired)
}

// Snapshot returns the current metrics as a stable-ordered map.
func Snapshot() map[string]map[string]int64 {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]map[string]int64, len(buckets))
	keys := make([]key, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].labels < keys[j].labels
	})
	for _, k := range keys {
		b := buckets[k]
		name := k.name
		if k.labels != "" {
			name = k.name + "{" + k.labels + "}"
		}
		out[name] = map[string]int64{
			"count":      b.Count,
			"sum_millis": b.SumMillis,
		}
	}
	return out
}

// Reset clears the registry. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	buckets = map[key]*bucket{}
}
