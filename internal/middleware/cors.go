package middleware

import (
	"regexp"

	"github.com/valyala/fasthttp"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

// CORSMiddleware lets browser viewers hosted elsewhere call the REST endpoints.
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware allows every origin when none is configured.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if ctx.IsOptions() {
			cm.setHeaders(ctx)
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
		// ctx.Error resets the response, so headers go on last.
		cm.setHeaders(ctx)
	}
}

func (cm *CORSMiddleware) setHeaders(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))

	switch {
	case origin != "" && cm.IsOriginAllowed(origin):
		ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
		ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
		ctx.Response.Header.Set("Vary", "Origin")
	case cm.wildcard():
		ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	}

	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	ctx.Response.Header.Set("Access-Control-Max-Age", "86400")
}

// IsOriginAllowed also backs the websocket upgrader origin check.
func (cm *CORSMiddleware) IsOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range cm.allowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
		if allowed == "localhost" && localhostOrigin.MatchString(origin) {
			return true
		}
	}
	return false
}

func (cm *CORSMiddleware) wildcard() bool {
	return len(cm.allowedOrigins) == 1 && cm.allowedOrigins[0] == "*"
}
