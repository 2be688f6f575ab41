package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/frame"
	"github.com/brayns/brayns_server/internal/history"
	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/metrics"
	"github.com/brayns/brayns_server/internal/model"
	"github.com/brayns/brayns_server/internal/rpc"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const historyTimeout = 5 * time.Second

// Archive gives access to the blobs kept for completed uploads.
type Archive interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Discard(ctx context.Context, path string) error
}

type Deps struct {
	Manager  *upload.Manager
	Scene    *scene.Scene
	Registry *loader.Registry
	History  history.Repository
	// Archive is optional.
	Archive Archive
	Metrics *metrics.Metrics
	Version string
}

type runningUpload struct {
	task     *upload.Task
	recordID string
	started  time.Time
}

// Service serves the JSON-RPC methods and routes binary frames to the upload manager.
type Service struct {
	manager  *upload.Manager
	scene    *scene.Scene
	registry *loader.Registry
	history  history.Repository
	archive  Archive
	metrics  *metrics.Metrics
	version  string
	router   *rpc.Router

	ctx     context.Context
	cancel  context.CancelFunc
	uploads conc.WaitGroup

	mu      sync.Mutex
	running map[string]map[string]*runningUpload
}

func NewService(deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		manager:  deps.Manager,
		scene:    deps.Scene,
		registry: deps.Registry,
		history:  deps.History,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		version:  deps.Version,
		router:   rpc.NewRouter(),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]map[string]*runningUpload),
	}
	s.registerMethods()

	s.metrics.RegisterGauge("pending_uploads", "Upload tasks not yet removed by the poller.", func() float64 {
		return float64(s.manager.Stats().Pending)
	})
	s.metrics.RegisterGauge("scene_models", "Models in the scene.", func() float64 {
		return float64(s.scene.Count())
	})
	return s
}

func (s *Service) Router() *rpc.Router {
	return s.router
}

// HandleFrame processes one inbound websocket message. It runs on the dispatch goroutine.
func (s *Service) HandleFrame(clientID string, sender rpc.Sender, f frame.Frame) {
	switch {
	case f.IsText():
		s.router.Dispatch(s.ctx, clientID, sender, f.Data())
	case f.IsBinary():
		s.handleBinary(clientID, sender, f.Data())
	default:
		log.Debug().Str("clientId", clientID).Msg("[API] Ignoring empty frame")
	}
}

type chunkHeader struct {
	ChunksID string `json:"chunks_id"`
}

func (s *Service) handleBinary(clientID string, sender rpc.Sender, data []byte) {
	body := data
	if s.manager.Config().BinaryFormat == upload.BinaryFormatPrefixed {
		header, rest, err := frame.SplitBinary(data)
		if err != nil {
			s.rejectChunk(clientID, sender, rpc.NewError(rpc.CodeParseError, err.Error()))
			return
		}
		var h chunkHeader
		if len(header) > 0 {
			if err := json.Unmarshal(header, &h); err != nil {
				s.rejectChunk(clientID, sender, rpc.NewError(rpc.CodeParseError, fmt.Sprintf("invalid chunk header: %v", err)))
				return
			}
		}
		if h.ChunksID != "" {
			if err := s.manager.SetNextChunkID(clientID, h.ChunksID); err != nil {
				s.rejectChunk(clientID, sender, ToRPCError(err))
				return
			}
		}
		body = rest
	}

	if err := s.manager.RouteChunk(clientID, body); err != nil {
		s.rejectChunk(clientID, sender, ToRPCError(err))
		return
	}
	s.metrics.BytesReceived(len(body))
}

// rejectChunk replies with a null id, binary frames carry no request id.
func (s *Service) rejectChunk(clientID string, sender rpc.Sender, rpcErr *rpc.Error) {
	log.Debug().
		Str("clientId", clientID).
		Int("code", rpcErr.Code).
		Str("error", rpcErr.Message).
		Msg("[API] Binary frame rejected")
	s.metrics.ChunkRejected(strconv.Itoa(rpcErr.Code))
	sender.Send(rpc.NewErrorResponse(nil, rpcErr))
}

func (s *Service) ClientConnected(clientID string) {
	s.metrics.ClientConnected()
}

// ClientDisconnected cancels the client's uploads. Their replies are dropped with the connection.
func (s *Service) ClientDisconnected(clientID string) {
	s.metrics.ClientDisconnected()
	s.manager.DisconnectClient(clientID)
}

func (s *Service) Poll() int {
	return s.manager.Poll()
}

// Shutdown cancels every upload and waits for their goroutines, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	s.manager.Shutdown()

	done := make(chan struct{})
	go func() {
		s.uploads.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for uploads to stop: %w", ctx.Err())
	}
}

type Stats struct {
	Uploads upload.Stats `json:"uploads"`
	Running int          `json:"running"`
	Models  int          `json:"models"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := 0
	for _, byRequest := range s.running {
		running += len(byRequest)
	}
	s.mu.Unlock()

	return Stats{
		Uploads: s.manager.Stats(),
		Running: running,
		Models:  s.scene.Count(),
	}
}

func (s *Service) startUpload(call *rpc.Call, task *upload.Task) {
	run := &runningUpload{
		task:     task,
		recordID: uuid.New().String(),
		started:  time.Now(),
	}
	s.track(call, run)
	s.metrics.UploadDeclared(task.Params().Type)

	// History writes stay off the dispatch goroutine; chunks keep flowing
	// into the task while the record is stored.
	s.uploads.Go(func() {
		defer s.untrack(call, run)

		s.recordDeclared(call.ClientID, run)
		descriptors, err := task.Run(s.ctx)
		s.recordFinished(run, descriptors, err)
		if err != nil {
			call.Fail(loadError(err))
			return
		}
		call.Reply(descriptors)
	})
}

func (s *Service) track(call *rpc.Call, run *runningUpload) {
	if call.Request.IsNotification() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byRequest, ok := s.running[call.ClientID]
	if !ok {
		byRequest = make(map[string]*runningUpload)
		s.running[call.ClientID] = byRequest
	}
	byRequest[call.Request.Key()] = run
}

func (s *Service) untrack(call *rpc.Call, run *runningUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRequest := s.running[call.ClientID]
	if byRequest[call.Request.Key()] == run {
		delete(byRequest, call.Request.Key())
	}
	if len(byRequest) == 0 {
		delete(s.running, call.ClientID)
	}
}

func (s *Service) runningFor(clientID, requestKey string) (*runningUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.running[clientID][requestKey]
	return run, ok
}

func (s *Service) recordDeclared(clientID string, run *runningUpload) {
	params := run.task.Params()
	record := &history.Record{
		ID:        run.recordID,
		ClientID:  clientID,
		ChunksID:  params.ChunksID,
		Name:      params.Name,
		Type:      params.Type,
		Size:      params.Size,
		Status:    history.StatusPending,
		CreatedAt: run.started.Unix(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Create(ctx, record); err != nil {
		log.Warn().Err(err).Str("chunksId", params.ChunksID).Msg("[HISTORY] Failed to record upload")
	}
}

func (s *Service) recordFinished(run *runningUpload, descriptors []*model.Descriptor, err error) {
	params := run.task.Params()
	outcome := history.Outcome{
		Status:     history.StatusDone,
		FinishedAt: time.Now().Unix(),
	}

	switch {
	case err == nil:
		for _, d := range descriptors {
			outcome.ModelIDs = append(outcome.ModelIDs, d.ID)
		}
		s.metrics.ModelsLoaded(len(descriptors))
	case errors.Is(err, upload.ErrCancelled):
		outcome.Status = history.StatusCancelled
	default:
		outcome.Status = history.StatusFailed
		outcome.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if archived := run.task.Archived(); archived != nil {
		outcome.Checksum = archived.Checksum
		if outcome.Status == history.StatusDone {
			outcome.ArchivePath = archived.Path
		} else if s.archive != nil {
			if discardErr := s.archive.Discard(ctx, archived.Path); discardErr != nil {
				log.Warn().Err(discardErr).Str("path", archived.Path).Msg("[API] Failed to discard archive")
			}
		}
	}

	elapsed := time.Since(run.started)
	s.metrics.UploadFinished(string(outcome.Status), elapsed)

	if historyErr := s.history.Finish(ctx, run.recordID, outcome); historyErr != nil {
		log.Warn().Err(historyErr).Str("chunksId", params.ChunksID).Msg("[HISTORY] Failed to update upload record")
	}

	log.Info().
		Str("chunksId", params.ChunksID).
		Str("status", string(outcome.Status)).
		Int("models", len(descriptors)).
		Dur("elapsed", elapsed).
		Msg("[UPLOAD] Upload finished")
}
