// Package metrics declares the process's Prometheus collectors.
//
// Naming convention: namespace_subsystem_name
//   - namespace: chess (application-level grouping)
//   - subsystem: websocket, room, game, queue, circuit_breaker, rate_limit
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "game",
		Name:      "games_active",
		Help:      "Current number of active games",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of players waiting in a matchmaking queue",
	}, []string{"queue"})

	MovesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "game",
		Name:      "moves_total",
		Help:      "Total moves processed",
	}, []string{"status"})

	IllegalMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "game",
		Name:      "illegal_moves_total",
		Help:      "Total illegal move attempts rejected by the rules oracle",
	})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound WebSocket events processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing a single inbound WebSocket message",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded a rate limit",
	}, []string{"endpoint", "reason"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }
