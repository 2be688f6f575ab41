package internal

import (
	"strings"

	"github.com/brayns/brayns_server/internal/api"
	"github.com/brayns/brayns_server/internal/auth"
	"github.com/brayns/brayns_server/internal/health"
	"github.com/brayns/brayns_server/internal/metrics"
	"github.com/brayns/brayns_server/internal/middleware"
	"github.com/brayns/brayns_server/internal/status"
	"github.com/brayns/brayns_server/internal/websocket"
	"github.com/valyala/fasthttp"
)

type Handlers struct {
	API     *api.Endpoints
	Health  *health.HealthEndpoints
	Status  *status.StatusEndpoints
	Metrics *metrics.Metrics
	WS      *websocket.Handler
}

func NewRequestHandler(authService *auth.Service, corsMiddleware *middleware.CORSMiddleware, h Handlers) fasthttp.RequestHandler {
	authMiddleware := middleware.NewAuthMiddleware(authService)
	metricsHandler := h.Metrics.Handler()

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/ws":
			h.WS.HandleFastHTTP(ctx)
		case path == "/health":
			h.Health.Health(ctx)
		case path == "/status":
			authMiddleware.RequireAuth(h.Status.Status)(ctx)
		case path == "/metrics":
			metricsHandler(ctx)

		case path == "/models":
			if method == fasthttp.MethodGet {
				authMiddleware.RequireAuth(h.API.GetModels)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/models/"):
			parts := strings.Split(path, "/")
			if len(parts) != 3 || parts[2] == "" {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("modelID", parts[2])
			switch method {
			case fasthttp.MethodGet:
				authMiddleware.RequireAuth(h.API.GetModel)(ctx)
			case fasthttp.MethodDelete:
				authMiddleware.RequireAuth(h.API.DeleteModel)(ctx)
			default:
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/uploads":
			if method == fasthttp.MethodGet {
				authMiddleware.RequireAuth(h.API.GetUploads)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/uploads/"):
			parts := strings.Split(path, "/")
			if method != fasthttp.MethodGet {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				return
			}
			switch {
			case len(parts) == 3 && parts[2] != "":
				ctx.SetUserValue("uploadID", parts[2])
				authMiddleware.RequireAuth(h.API.GetUpload)(ctx)
			case len(parts) == 4 && parts[2] != "" && parts[3] == "blob":
				ctx.SetUserValue("uploadID", parts[2])
				authMiddleware.RequireAuth(h.API.GetUploadBlob)(ctx)
			default:
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
