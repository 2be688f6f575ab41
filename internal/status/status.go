package status

import (
	"runtime"
	"time"

	"github.com/brayns/brayns_server/internal/api"
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// StatsSource reports the state of uploads and the scene.
type StatsSource interface {
	Stats() api.Stats
}

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

type StatusEndpoints struct {
	version string
	started time.Time
	stats   StatsSource
	clients ClientCounter
}

func NewEndpoints(version string, stats StatsSource, clients ClientCounter) *StatusEndpoints {
	return &StatusEndpoints{
		version: version,
		started: time.Now(),
		stats:   stats,
		clients: clients,
	}
}

type StatusResponse struct {
	Health     string    `json:"health"`
	Version    string    `json:"version"`
	Uptime     string    `json:"uptime"`
	Clients    int       `json:"clients"`
	Goroutines int       `json:"goroutines"`
	Stats      api.Stats `json:"stats"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	response := StatusResponse{
		Health:     "OK",
		Version:    se.version,
		Uptime:     time.Since(se.started).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Stats:      se.stats.Stats(),
	}
	if se.clients != nil {
		response.Clients = se.clients.ClientCount()
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
