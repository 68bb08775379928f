package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/server"
)

// NewServer builds the ops HTTP server: health, metrics, read-only chat
// state and the WebSocket transport.
func NewServer(chat *server.Server, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewHandler(chat, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler routes /ws straight to the WebSocket handler and everything
// else through gin. The upgrade hijacks the connection, which gin's response
// writer refuses once the status line has been written.
func NewHandler(chat *server.Server, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(chat, logger))
	mux.Handle("/", NewRouter(chat, logger))
	return mux
}

// NewRouter registers the health, metrics and API routes on a fresh gin engine.
func NewRouter(chat *server.Server, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(chat.Metrics().Registry, promhttp.HandlerOpts{})))

	api := NewAPIHandlers(chat.Hub(), chat.Journal(), logger)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/channels", api.ListChannels)
		apiGroup.GET("/sessions", api.ListSessions)
		apiGroup.GET("/sessions/active", api.ActiveSessions)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
