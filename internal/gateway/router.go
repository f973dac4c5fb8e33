package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/cardswap/pkg/protocol"
)

const tracerName = "github.com/nextlevelbuilder/cardswap/internal/gateway"

// MethodHandler processes a single RPC method request. It must send exactly
// one response frame.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
	tracer   trace.Tracer
}

func NewMethodRouter(server *Server) *MethodRouter {
	tp := server.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
		tracer:   tp.Tracer(tracerName),
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler, replacing any previous one.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Methods returns the registered method names.
func (r *MethodRouter) Methods() []string {
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	if req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
		if rl := r.server.rateLimiter; rl != nil && !rl.Allow(client.id) {
			resp := protocol.NewErrorResponse(req.ID, protocol.ErrResourceExhausted, "rate limit exceeded")
			resp.Error.Retryable = true
			resp.Error.RetryAfterMs = int(rl.RetryAfter(client.id) / time.Millisecond)
			client.SendResponse(resp)
			return
		}
	}

	ctx, span := r.tracer.Start(ctx, "gateway."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", req.Method),
			attribute.String("gateway.client_id", client.id),
		),
	)
	defer span.End()

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

// RecordError marks the active span as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
}

// --- Built-in handlers ---

func (r *MethodRouter) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.MarkConnected()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"connId":   client.id,
		"server": map[string]interface{}{
			"name":    "cardswap",
			"version": r.server.version,
		},
	}))
}

func (r *MethodRouter) handleHealth(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status": "ok",
	}))
}

func (r *MethodRouter) handleStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	status := map[string]interface{}{
		"clients": r.server.ClientCount(),
		"uptime":  time.Since(r.server.startedAt).Round(time.Second).String(),
		"version": r.server.version,
	}
	if r.server.statusFn != nil {
		for k, v := range r.server.statusFn() {
			status[k] = v
		}
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, status))
}
