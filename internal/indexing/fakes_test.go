package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

const testDim = 4

// scriptedEmbedder returns per-call errors from script, keyed by call
// number, and deterministic vectors otherwise.
type scriptedEmbedder struct {
	mu     sync.Mutex
	calls  int
	script map[int]error
	short  map[int]bool
	sizes  []int
}

func (e *scriptedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	call := e.calls
	e.calls++
	e.sizes = append(e.sizes, len(texts))
	if err := e.script[call]; err != nil {
		return nil, err
	}
	n := len(texts)
	if e.short[call] {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = vectorFor(texts[i])
	}
	return out, nil
}

func vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	for i, r := range text {
		v[i%testDim] += float32(r % 7)
	}
	v[0]++
	return v
}

// sleepRecorder records requested waits without sleeping.
type sleepRecorder struct {
	waits []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func makeChunks(n int, section tenant.Section) []chunking.Chunk {
	out := make([]chunking.Chunk, n)
	for i := range out {
		out[i] = chunking.Chunk{
			ID:       tenant.DeriveID("acme", tenant.CategoryGeneralFAQ, i),
			Text:     fmt.Sprintf("Q: question %d?\nA: answer %d.", i, i),
			Section:  section,
			Metadata: map[string]string{chunking.MetaType: chunking.TypeGeneralFAQ},
		}
	}
	return out
}

// memRegistry is an in-memory Registry.
type memRegistry struct {
	mu       sync.Mutex
	sections map[string]map[tenant.Section][]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{sections: map[string]map[tenant.Section][]string{}}
}

func (r *memRegistry) SectionIDs(_ context.Context, tenantID string, section tenant.Section) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sections[tenantID][section], nil
}

func (r *memRegistry) SetSectionIDs(_ context.Context, tenantID string, section tenant.Section, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sections[tenantID] == nil {
		r.sections[tenantID] = map[tenant.Section][]string{}
	}
	r.sections[tenantID][section] = append([]string(nil), ids...)
	return nil
}

func (r *memRegistry) ClearSections(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sections, tenantID)
	return nil
}
