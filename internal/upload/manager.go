package upload

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type clientUploads struct {
	next  string
	tasks map[string]*Task
}

// Manager routes binary chunks to the pending upload tasks of each client.
type Manager struct {
	registry Registry
	sink     Sink
	archiver Archiver
	config   Config
	clients  map[string]*clientUploads
	mu       sync.Mutex
}

func NewManager(registry Registry, sink Sink, archiver Archiver, config Config) *Manager {
	return &Manager{
		registry: registry,
		sink:     sink,
		archiver: archiver,
		config:   config,
		clients:  make(map[string]*clientUploads),
	}
}

// Declare creates and registers a task for params. The client's next binary frames go to it.
func (m *Manager) Declare(clientID string, params Params, progress ProgressFunc) (*Task, error) {
	task, err := NewTask(params, Deps{
		Registry: m.registry,
		Sink:     m.sink,
		Archiver: m.archiver,
		Progress: progress,
		Timeout:  m.config.Timeout,
		MaxSize:  m.config.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	uploads, ok := m.clients[clientID]
	if !ok {
		uploads = &clientUploads{tasks: make(map[string]*Task)}
		m.clients[clientID] = uploads
	}
	if existing, ok := uploads.tasks[params.ChunksID]; ok && !existing.Finished() {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChunkID, params.ChunksID)
	}

	uploads.tasks[params.ChunksID] = task
	uploads.next = params.ChunksID

	log.Info().
		Str("clientId", clientID).
		Str("chunksId", params.ChunksID).
		Str("type", params.Type).
		Uint64("size", params.Size).
		Msg("[UPLOAD] Upload declared")

	return task, nil
}

func (m *Manager) SetNextChunkID(clientID, chunksID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uploads, ok := m.clients[clientID]
	if !ok || len(uploads.tasks) == 0 {
		return ErrNoUploadsForClient
	}
	uploads.next = chunksID
	return nil
}

// RouteChunk appends data to the task registered under the client's next chunks id.
func (m *Manager) RouteChunk(clientID string, data []byte) error {
	m.mu.Lock()
	uploads, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return ErrNoUploadForChunkID
	}
	task, ok := uploads.tasks[uploads.next]
	chunksID := uploads.next
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNoUploadForChunkID, chunksID)
	}
	return task.AddChunk(data)
}

// Poll drops terminal tasks and clients left without tasks. It returns the number of dropped tasks.
func (m *Manager) Poll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for clientID, uploads := range m.clients {
		for chunksID, task := range uploads.tasks {
			if task.Finished() {
				delete(uploads.tasks, chunksID)
				removed++
			}
		}
		if len(uploads.tasks) == 0 {
			delete(m.clients, clientID)
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("[UPLOAD] Finished uploads removed")
	}
	return removed
}

// DisconnectClient cancels every pending task of the client. Entries are dropped by the next Poll.
func (m *Manager) DisconnectClient(clientID string) int {
	m.mu.Lock()
	uploads, ok := m.clients[clientID]
	var tasks []*Task
	if ok {
		for _, task := range uploads.tasks {
			tasks = append(tasks, task)
		}
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.Disconnect()
	}
	if len(tasks) > 0 {
		log.Info().Str("clientId", clientID).Int("cancelled", len(tasks)).Msg("[UPLOAD] Client uploads cancelled")
	}
	return len(tasks)
}

// Shutdown cancels every pending task of every client.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clientIDs := make([]string, 0, len(m.clients))
	for clientID := range m.clients {
		clientIDs = append(clientIDs, clientID)
	}
	m.mu.Unlock()

	for _, clientID := range clientIDs {
		m.DisconnectClient(clientID)
	}
	m.Poll()
}

func (m *Manager) Task(clientID, chunksID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uploads, ok := m.clients[clientID]
	if !ok {
		return nil, false
	}
	task, ok := uploads.tasks[chunksID]
	return task, ok
}

type Stats struct {
	Clients int `json:"clients"`
	Pending int `json:"pending"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Clients: len(m.clients)}
	for _, uploads := range m.clients {
		stats.Pending += len(uploads.tasks)
	}
	return stats
}

func (m *Manager) Config() Config {
	return m.config
}
