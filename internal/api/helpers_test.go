package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brayns/brayns_server/internal/frame"
	"github.com/brayns/brayns_server/internal/history"
	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/metrics"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/storage"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const (
	testClient  = "client-1"
	triangleOBJ = "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"

	waitTimeout  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type fakeSender struct {
	mu       sync.Mutex
	messages []map[string]interface{}
}

func (s *fakeSender) Send(message interface{}) bool {
	data, err := json.Marshal(message)
	if err != nil {
		panic(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, decoded)
	return true
}

func (s *fakeSender) snapshot() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.messages...)
}

func (s *fakeSender) findReply(id int) (map[string]interface{}, bool) {
	for _, m := range s.snapshot() {
		if m["id"] != float64(id) {
			continue
		}
		if _, ok := m["result"]; ok {
			return m, true
		}
		if _, ok := m["error"]; ok {
			return m, true
		}
	}
	return nil, false
}

// waitReply blocks until the reply to request id arrives.
func (s *fakeSender) waitReply(t *testing.T, id int) map[string]interface{} {
	t.Helper()
	var reply map[string]interface{}
	require.Eventually(t, func() bool {
		var ok bool
		reply, ok = s.findReply(id)
		return ok
	}, waitTimeout, pollInterval, "no reply for request %d", id)
	return reply
}

// nullIDErrors returns the error replies to binary frames.
func (s *fakeSender) nullIDErrors() []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range s.snapshot() {
		if id, ok := m["id"]; ok && id == nil {
			if _, isErr := m["error"]; isErr {
				out = append(out, m)
			}
		}
	}
	return out
}

func (s *fakeSender) progressAmounts(id int) []float64 {
	var out []float64
	for _, m := range s.snapshot() {
		if m["method"] != MethodProgress {
			continue
		}
		params := m["params"].(map[string]interface{})
		if params["id"] == float64(id) {
			out = append(out, params["amount"].(float64))
		}
	}
	return out
}

func errorCodeOf(t *testing.T, reply map[string]interface{}) int {
	t.Helper()
	e, ok := reply["error"].(map[string]interface{})
	require.True(t, ok, "expected error reply, got %v", reply)
	return int(e["code"].(float64))
}

type harness struct {
	service *Service
	scene   *scene.Scene
	history *history.MemoryRepository
	manager *upload.Manager
	sender  *fakeSender
}

func newHarness(t *testing.T, config upload.Config, archiver *storage.Archiver) *harness {
	t.Helper()
	return newHarnessWithHistory(t, config, archiver, nil)
}

// newHarnessWithHistory lets wrap decorate the in-memory history the service writes to.
func newHarnessWithHistory(t *testing.T, config upload.Config, archiver *storage.Archiver, wrap func(*history.MemoryRepository) history.Repository) *harness {
	t.Helper()

	registry := loader.NewDefaultRegistry()
	sc := scene.New()
	repo := history.NewMemoryRepository()
	var records history.Repository = repo
	if wrap != nil {
		records = wrap(repo)
	}

	var uploadArchiver upload.Archiver
	var archive Archive
	if archiver != nil {
		uploadArchiver = archiver
		archive = archiver
	}

	manager := upload.NewManager(registry, sc, uploadArchiver, config)
	service := NewService(Deps{
		Manager:  manager,
		Scene:    sc,
		Registry: registry,
		History:  records,
		Archive:  archive,
		Metrics:  metrics.New(),
		Version:  "test",
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
	})

	return &harness{
		service: service,
		scene:   sc,
		history: repo,
		manager: manager,
		sender:  &fakeSender{},
	}
}

func (h *harness) call(t *testing.T, id int, method string, params interface{}) {
	t.Helper()
	request := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		request["params"] = params
	}
	data, err := json.Marshal(request)
	require.NoError(t, err)
	h.service.HandleFrame(testClient, h.sender, frame.Text(data))
}

func (h *harness) binary(data []byte) {
	h.service.HandleFrame(testClient, h.sender, frame.Binary(data))
}

func uploadParams(chunksID string, size int, typ, name string) map[string]interface{} {
	return map[string]interface{}{
		"chunks_id": chunksID,
		"size":      size,
		"type":      typ,
		"name":      name,
	}
}

// slowHistory holds every Create until release is closed.
type slowHistory struct {
	*history.MemoryRepository
	release chan struct{}
}

func (h *slowHistory) Create(ctx context.Context, record *history.Record) error {
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.MemoryRepository.Create(ctx, record)
}
