// Package dispatch parses inbound {type, payload} frames, enforces the
// per-user message rate limit, and routes each frame to the handler
// registered for its type.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/chesshub/chessd/internal/ratelimit"
	"github.com/chesshub/chessd/internal/registry"
	"go.uber.org/zap"
)

// inboundFrame mirrors registry.Frame but keeps payload raw until a
// handler knows the concrete type it expects.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one decoded inbound command for userID.
type Handler func(ctx context.Context, userID domain.UserID, payload json.RawMessage) error

// Dispatcher routes inbound frames by type and enforces rate limits.
type Dispatcher struct {
	handlers map[string]Handler
	limiter  *ratelimit.Limiter
	reg      *registry.Registry
}

// New builds a Dispatcher with no registered handlers; call Handle to
// populate the routing table before wiring it to the registry.
func New(limiter *ratelimit.Limiter, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), limiter: limiter, reg: reg}
}

// Handle registers the handler invoked for inbound frames of the given type.
func (d *Dispatcher) Handle(frameType string, h Handler) {
	d.handlers[frameType] = h
}

// Dispatch parses raw and routes it to the matching handler. It is the
// function wired as the registry's InboundHandler.
func (d *Dispatcher) Dispatch(ctx context.Context, userID domain.UserID, raw []byte) {
	if d.limiter != nil && !d.limiter.AllowMessage(ctx, string(userID)) {
		d.reg.CloseClient(userID, registry.CloseRateLimited)
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		d.reg.BroadcastToClient(userID, "ERROR", map[string]string{"message": "malformed message"})
		return
	}

	handler, ok := d.handlers[frame.Type]
	if !ok {
		d.reg.BroadcastToClient(userID, "ERROR", map[string]string{"message": "unknown message type: " + frame.Type})
		return
	}

	start := time.Now()
	err := handler(logging.WithUser(ctx, string(userID)), userID, frame.Payload)
	metrics.MessageProcessingDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.WebsocketEvents.WithLabelValues(frame.Type, "ok").Inc()
		return
	}

	metrics.WebsocketEvents.WithLabelValues(frame.Type, "error").Inc()
	d.handleError(ctx, userID, frame.Type, err)
}

func (d *Dispatcher) handleError(ctx context.Context, userID domain.UserID, frameType string, err error) {
	if apperr.IsWarnLevel(err) {
		logging.Warn(ctx, "handler rejected command", zap.String("type", frameType), zap.Error(err))
	} else {
		logging.Error(ctx, "handler failed", zap.String("type", frameType), zap.Error(err))
	}

	switch apperr.KindOf(err) {
	case apperr.KindAuthorization:
		d.reg.BroadcastToClient(userID, "UNAUTHORIZED", map[string]string{"message": err.Error()})
	case apperr.KindFatal:
		d.reg.CloseClient(userID, registry.CloseAuthFailed)
	default:
		d.reg.BroadcastToClient(userID, "ERROR", map[string]string{"message": err.Error()})
	}
}
