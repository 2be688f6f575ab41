package upload

import (
	"context"
	"sync"

	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/model"
)

type fakeLoader struct {
	mu      sync.Mutex
	calls   int
	blobs   []loader.Blob
	err     error
	panics  bool
	release chan struct{}
}

func (l *fakeLoader) Name() string {
	return "fake"
}

func (l *fakeLoader) Extensions() []string {
	return []string{"mesh"}
}

func (l *fakeLoader) ImportFromBlob(ctx context.Context, blob loader.Blob, progress loader.ProgressFunc, _ map[string]interface{}) ([]*model.Model, error) {
	l.mu.Lock()
	l.calls++
	l.blobs = append(l.blobs, blob)
	release := l.release
	l.mu.Unlock()

	progress("Parsing", 0.25)
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	progress("Parsing", 1)

	if l.panics {
		panic("makeslice: len out of range")
	}
	if l.err != nil {
		return nil, l.err
	}
	return []*model.Model{{Name: blob.Name, Vertices: []model.Vector3{{0, 0, 0}, {1, 1, 1}}}}, nil
}

func (l *fakeLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeSink struct {
	mu     sync.Mutex
	added  [][]*model.Model
	params []model.Params
}

func (s *fakeSink) AddModels(models []*model.Model, params model.Params) []*model.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, models)
	s.params = append(s.params, params)

	out := make([]*model.Descriptor, 0, len(models))
	for _, m := range models {
		out = append(out, &model.Descriptor{ID: "model-" + m.Name, Name: params.Name})
	}
	return out
}

func (s *fakeSink) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added)
}

type fakeArchiver struct {
	mu    sync.Mutex
	sizes []int
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, chunksID, _, _ string, data []byte) (*Archived, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sizes = append(a.sizes, len(data))
	if a.err != nil {
		return nil, a.err
	}
	return &Archived{Path: "uploads/" + chunksID, Checksum: "sum"}, nil
}

type progressRecorder struct {
	mu      sync.Mutex
	amounts []float64
}

func (r *progressRecorder) record(_ string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.amounts = append(r.amounts, amount)
}

func (r *progressRecorder) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.amounts...)
}

func newDeps(l *fakeLoader, sink *fakeSink) Deps {
	return Deps{
		Registry: loader.NewRegistry(l),
		Sink:     sink,
	}
}

func meshParams(chunksID string, size uint64) Params {
	return Params{
		Params:   model.Params{Name: "foo.obj"},
		ChunksID: chunksID,
		Size:     size,
		Type:     "mesh",
	}
}
