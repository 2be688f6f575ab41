package middleware

import (
	"testing"

	"github.com/brayns/brayns_server/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func okHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowed        []string
		origin         string
		expectedOrigin string
	}{
		{"wildcard echoes origin", nil, "https://viewer.example", "https://viewer.example"},
		{"exact match", []string{"https://viewer.example"}, "https://viewer.example", "https://viewer.example"},
		{"localhost pattern", []string{"localhost"}, "http://localhost:5173", "http://localhost:5173"},
		{"rejected", []string{"https://viewer.example"}, "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &fasthttp.RequestCtx{}
			ctx.Request.Header.Set("Origin", tt.origin)

			NewCORSMiddleware(tt.allowed).Handle(okHandler)(ctx)

			assert.Equal(t, tt.expectedOrigin, string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
			assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodOptions)

	NewCORSMiddleware(nil).Handle(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("preflight must not reach the handler")
	})(ctx)

	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, "*", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestCORSMiddleware_KeepsHeadersOnErrors(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Origin", "https://viewer.example")

	NewCORSMiddleware(nil).Handle(func(ctx *fasthttp.RequestCtx) {
		ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
	})(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Equal(t, "https://viewer.example", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	service := auth.NewService(auth.Config{JWTSecret: "secret"})
	token, _, err := service.Generate("viewer-1", "")
	require.NoError(t, err)
	mw := NewAuthMiddleware(service)

	t.Run("rejects missing token", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}

		mw.RequireAuth(okHandler)(ctx)

		assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Header.Peek("WWW-Authenticate")), "Bearer")
	})

	t.Run("stores claims", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
		var subject string

		mw.RequireAuth(func(ctx *fasthttp.RequestCtx) {
			subject = Claims(ctx).Subject
			okHandler(ctx)
		})(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "viewer-1", subject)
	})
}
