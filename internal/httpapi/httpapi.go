// Package httpapi exposes the WebSocket upgrade endpoint plus the
// ancillary HTTP surface (health, metrics) over gin, the way the
// teacher's session.Hub.ServeWs and cmd/v1/session/main.go wire theirs.
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/auth"
	"github.com/chesshub/chessd/internal/coordinator"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthzTimeout = 2 * time.Second

// TokenValidator verifies the identity token carried on the WebSocket
// upgrade request's query string. *auth.Validator and *auth.MockValidator
// both satisfy this.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Router builds the gin engine hosting the socket upgrade, health check,
// and metrics endpoints.
type Router struct {
	Engine *gin.Engine

	coord          *coordinator.Coordinator
	validator      TokenValidator
	allowedOrigins []string
	production     bool
}

// Options configures the HTTP surface.
type Options struct {
	Coordinator    *coordinator.Coordinator
	Validator      TokenValidator
	FrontendOrigin string
	Production     bool
}

// New builds a Router with CORS, correlation-id stamping, recovery, the
// WebSocket endpoint, /healthz, and /metrics wired in.
func New(opts Options) *Router {
	r := &Router{
		coord:          opts.Coordinator,
		validator:      opts.Validator,
		allowedOrigins: []string{opts.FrontendOrigin},
		production:     opts.Production,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = r.allowedOrigins
	if !opts.Production {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	engine.Use(cors.New(corsConfig))

	engine.GET("/ws", r.serveWs)
	engine.GET("/healthz", r.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Engine = engine
	return r
}

var upgrader = websocket.Upgrader{
	WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
}

// serveWs authenticates the token carried on the query string, upgrades
// the connection, and registers it with the connection registry. All
// subsequent traffic flows through the dispatcher.
func (r *Router) serveWs(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := r.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	upgrader.CheckOrigin = r.checkOrigin
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	userID := domain.UserID(claims.Subject)
	r.coord.Registry.Register(conn, userID, r.coord.Dispatcher.Dispatch)
}

func (r *Router) checkOrigin(req *http.Request) bool {
	// Origin is only enforced in production; non-production environments
	// (and the CORS config built in New) are deliberately permissive.
	if !r.production {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range r.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

func (r *Router) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthzTimeout)
	defer cancel()
	if err := r.coord.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
