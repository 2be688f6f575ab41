package rpc

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Sender delivers a message to one connected client. It reports false when the message was dropped.
type Sender interface {
	Send(message interface{}) bool
}

// Call is one request being served. It can be replied to asynchronously, at most once.
type Call struct {
	Context  context.Context
	Request  *Request
	ClientID string

	sender  Sender
	replied sync.Once
}

func NewCall(ctx context.Context, clientID string, request *Request, sender Sender) *Call {
	return &Call{Context: ctx, Request: request, ClientID: clientID, sender: sender}
}

// Bind decodes the request params into v.
func (c *Call) Bind(v interface{}) *Error {
	if len(c.Request.Params) == 0 {
		return NewError(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(c.Request.Params, v); err != nil {
		return NewError(CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func (c *Call) Reply(result interface{}) {
	if c.Request.IsNotification() {
		return
	}
	c.replied.Do(func() {
		c.sender.Send(NewResponse(c.Request.ID, result))
	})
}

func (c *Call) Fail(err *Error) {
	if c.Request.IsNotification() {
		return
	}
	c.replied.Do(func() {
		c.sender.Send(NewErrorResponse(c.Request.ID, err))
	})
}

// Notify sends a server notification to the caller's client.
func (c *Call) Notify(method string, params interface{}) {
	c.sender.Send(NewNotification(method, params))
}

type HandlerFunc func(call *Call)

type Router struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch parses one text frame and runs the matching handler on the calling goroutine.
func (r *Router) Dispatch(ctx context.Context, clientID string, sender Sender, data []byte) {
	request, rpcErr := ParseRequest(data)
	if rpcErr != nil {
		log.Debug().Str("clientId", clientID).Int("code", rpcErr.Code).Msg("[RPC] Rejected request")
		var id json.RawMessage
		if request != nil {
			id = request.ID
		}
		sender.Send(NewErrorResponse(id, rpcErr))
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[request.Method]
	r.mu.RUnlock()

	call := NewCall(ctx, clientID, request, sender)
	if !ok {
		call.Fail(NewError(CodeMethodNotFound, fmt.Sprintf("method not found: %s", request.Method)))
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error().
				Str("clientId", clientID).
				Str("method", request.Method).
				Interface("panic", recovered).
				Msg("[RPC] Handler panicked")
			call.Fail(NewError(CodeInternalError, "internal error"))
		}
	}()

	log.Debug().Str("clientId", clientID).Str("method", request.Method).Msg("[RPC] Request received")
	handler(call)
}

// ParseRequest decodes and checks a JSON-RPC 2.0 request. On an invalid request the decoded
// value, if any, is returned alongside the error so the reply can carry its id.
func ParseRequest(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, NewError(CodeInvalidRequest, "batch requests are not supported")
	}

	var request Request
	if err := json.Unmarshal(trimmed, &request); err != nil {
		return nil, NewError(CodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	if !validID(request.ID) {
		return nil, NewError(CodeInvalidRequest, "id must be a string, a number or null")
	}
	if request.JSONRPC != Version {
		return &request, NewError(CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if request.Method == "" {
		return &request, NewError(CodeInvalidRequest, "method is required")
	}
	return &request, nil
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return string(id) == "null"
	}
}
