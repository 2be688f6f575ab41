package middleware

import (
	"github.com/brayns/brayns_server/internal/auth"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const claimsKey = "claims"

// AuthMiddleware guards REST routes with the same tokens the websocket accepts.
type AuthMiddleware struct {
	auth *auth.Service
}

func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{auth: authService}
}

func (am *AuthMiddleware) RequireAuth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		claims, err := am.auth.ValidateRequest(ctx)
		if err != nil {
			log.Debug().
				Err(err).
				Str("method", string(ctx.Method())).
				Str("path", string(ctx.Path())).
				Msg("[HTTP] Rejected request without a valid token")
			ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
			ctx.Response.Header.Set("WWW-Authenticate", `Bearer realm="brayns"`)
			return
		}

		ctx.SetUserValue(claimsKey, claims)
		next(ctx)
	}
}

// Claims returns the caller stored by RequireAuth, or nil outside guarded routes.
func Claims(ctx *fasthttp.RequestCtx) *auth.Claims {
	claims, _ := ctx.UserValue(claimsKey).(*auth.Claims)
	return claims
}
