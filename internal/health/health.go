package health

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const pingTimeout = 2 * time.Second

// Pinger is a dependency the server cannot work without, such as the history database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthEndpoints struct {
	version string
	checks  map[string]Pinger
}

func NewEndpoints(version string) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		checks:  make(map[string]Pinger),
	}
}

// AddCheck makes Health report unavailable while pinger fails.
func (h *HealthEndpoints) AddCheck(name string, pinger Pinger) {
	h.checks[name] = pinger
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
	}
	status := fasthttp.StatusOK

	if len(h.checks) > 0 {
		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()

		response.Checks = make(map[string]string, len(h.checks))
		for name, pinger := range h.checks {
			if err := pinger.PingContext(pingCtx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("[HTTP] Health check failed")
				response.Checks[name] = "unavailable"
				response.Status = "degraded"
				status = fasthttp.StatusServiceUnavailable
				continue
			}
			response.Checks[name] = "ok"
		}
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(responseJSON)
}
