package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/loftchat/loftchat-server/internal/config"
	"github.com/loftchat/loftchat-server/internal/core"
	"github.com/loftchat/loftchat-server/internal/media"
)

// ErrorResponse is the JSON body for REST-side failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server: health, the WebSocket endpoint, image
// upload and static media serving.
func NewServer(coord *core.Coordinator, hub *core.Hub, mediaStore *media.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(NewWSHandler(coord, hub, logger)))
	router.POST("/api/upload", uploadHandler(mediaStore, logger))
	router.Static("/media", mediaStore.Dir())

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
