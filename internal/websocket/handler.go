package websocket

import (
	"github.com/brayns/brayns_server/internal/auth"
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// OriginChecker decides whether a browser origin may open a connection.
type OriginChecker func(origin string) bool

type Handler struct {
	hub       *Hub
	auth      *auth.Service
	upgrader  websocket.FastHTTPUpgrader
	readLimit int64
}

// NewHandler builds the upgrade handler. A nil checkOrigin accepts every origin.
func NewHandler(hub *Hub, authService *auth.Service, checkOrigin OriginChecker, readLimit int64) *Handler {
	return &Handler{
		hub:  hub,
		auth: authService,
		upgrader: websocket.FastHTTPUpgrader{
			CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
				origin := string(ctx.Request.Header.Peek("Origin"))
				if origin == "" || checkOrigin == nil {
					return true
				}
				return checkOrigin(origin)
			},
		},
		readLimit: readLimit,
	}
}

// HandleFastHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	claims, err := h.auth.ValidateRequest(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("[WS] Connection rejected")
		ctx.Error("Unauthorized: "+err.Error(), fasthttp.StatusUnauthorized)
		return
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn, claims)
		if !h.hub.Register(client) {
			conn.Close()
			return
		}

		log.Info().
			Str("clientId", client.ID()).
			Str("subject", client.Subject()).
			Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump(h.readLimit) // Blocks until disconnect
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}
