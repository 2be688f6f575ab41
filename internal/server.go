package internal

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/api"
	"github.com/brayns/brayns_server/internal/auth"
	"github.com/brayns/brayns_server/internal/health"
	"github.com/brayns/brayns_server/internal/history"
	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/metrics"
	"github.com/brayns/brayns_server/internal/middleware"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/status"
	"github.com/brayns/brayns_server/internal/storage"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/brayns/brayns_server/internal/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// Server wires the upload service to its transports and background jobs.
type Server struct {
	config  *Config
	db      *DB
	service *api.Service
	hub     *websocket.Hub
	cleanup *history.CleanupScheduler
	http    *fasthttp.Server

	hubCtx    context.Context
	hubCancel context.CancelFunc
	hubDone   chan struct{}
	startOnce sync.Once
}

func NewServer(config *Config, version string) (*Server, error) {
	var repository history.Repository = history.NewMemoryRepository()
	var db *DB
	if config.Database.URL != "" {
		var err error
		db, err = NewDB(config.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		repository = history.NewPostgresRepository(db.DB)
	}

	backend, err := storage.NewBackend(config.Storage)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	var uploadArchiver upload.Archiver
	var archive api.Archive
	if backend != nil {
		archiver := storage.NewArchiver(backend)
		uploadArchiver = archiver
		archive = archiver
	}

	registry := loader.NewDefaultRegistry()
	sc := scene.New()
	m := metrics.New()
	manager := upload.NewManager(registry, sc, uploadArchiver, config.Upload)
	service := api.NewService(api.Deps{
		Manager:  manager,
		Scene:    sc,
		Registry: registry,
		History:  repository,
		Archive:  archive,
		Metrics:  m,
		Version:  version,
	})

	authService := auth.NewService(config.Auth)
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)
	hub := websocket.NewHub(service, config.Upload.PollInterval)

	healthEndpoints := health.NewEndpoints(version)
	if db != nil {
		healthEndpoints.AddCheck("database", db)
	}

	handler := NewRequestHandler(authService, corsMiddleware, Handlers{
		API:     api.NewEndpoints(service),
		Health:  healthEndpoints,
		Status:  status.NewEndpoints(version, service, hub),
		Metrics: m,
		WS:      websocket.NewHandler(hub, authService, corsMiddleware.IsOriginAllowed, config.Server.MaxMessageSize),
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		db:      db,
		service: service,
		hub:     hub,
		cleanup: history.NewCleanupScheduler(repository, config.History.RetentionDays),
		http: &fasthttp.Server{
			Handler:            handler,
			Name:               "brayns",
			MaxRequestBodySize: int(config.Server.MaxMessageSize),
		},
		hubCtx:    hubCtx,
		hubCancel: hubCancel,
		hubDone:   make(chan struct{}),
	}, nil
}

func (s *Server) Handler() fasthttp.RequestHandler {
	return s.http.Handler
}

// start launches the hub and the cleanup scheduler once.
func (s *Server) start() {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.hubDone)
			s.hub.Run(s.hubCtx)
		}()
		s.cleanup.Start()
	})
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address, err)
	}
	return s.Serve(ln)
}

// Serve blocks until the listener is closed by Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.start()
	log.Info().
		Str("address", ln.Addr().String()).
		Str("binaryFormat", s.config.Upload.BinaryFormat).
		Msg("[HTTP] Server listening")
	return s.http.Serve(ln)
}

// Shutdown stops accepting connections, disconnects every client and cancels pending uploads.
func (s *Server) Shutdown(ctx context.Context) error {
	var result *multierror.Error

	// A server that never served has no hub goroutine to wait for.
	s.startOnce.Do(func() { close(s.hubDone) })
	s.hubCancel()
	select {
	case <-s.hubDone:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("websocket hub: %w", ctx.Err()))
	}

	// Closed clients end their connections, which lets the HTTP server drain.
	if err := s.http.ShutdownWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	s.cleanup.Stop()

	if err := s.service.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("upload service: %w", err))
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("database: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// ShutdownGrace is how long Shutdown may wait for running uploads.
func (s *Server) ShutdownGrace() time.Duration {
	if s.config.Server.ShutdownGrace <= 0 {
		return 10 * time.Second
	}
	return s.config.Server.ShutdownGrace
}

func closeDB(db *DB) {
	if db != nil {
		db.Close()
	}
}
