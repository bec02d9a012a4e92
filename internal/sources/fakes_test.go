package sources

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

type allowList map[string][]string

func (a allowList) AllowedContainers(tenantID string) []string { return a[tenantID] }

type fakeSheets struct {
	mu      sync.Mutex
	pingErr error
	ranges  map[string][][]string
	reads   []string
	pings   int
}

func (f *fakeSheets) Ping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeSheets) ReadRange(_ context.Context, _ string, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, rng)
	return f.ranges[rng], nil
}

type fakeDrive struct {
	mu      sync.Mutex
	files   map[string][]FileInfo
	content map[string]string
	failing map[string]bool
	listed  []string
	opened  []string
}

func (f *fakeDrive) List(_ context.Context, container string, _ []string) ([]FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, container)
	return f.files[container], nil
}

func (f *fakeDrive) open(id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	if f.failing[id] {
		return nil, errors.New("boom")
	}
	return io.NopCloser(strings.NewReader(f.content[id])), nil
}

func (f *fakeDrive) Export(_ context.Context, id, _ string) (io.ReadCloser, error) { return f.open(id) }
func (f *fakeDrive) Download(_ context.Context, id string) (io.ReadCloser, error)  { return f.open(id) }

type fakeRunner struct {
	out  string
	err  error
	args []string
}

func (r *fakeRunner) Run(_ context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	r.args = append([]string{name}, args...)
	if r.err != nil {
		return nil, r.err
	}
	_, _ = io.ReadAll(stdin)
	return []byte(r.out), nil
}
