package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/config"
	"anpr-recorder/internal/service"
)

// NewRouter builds the gin engine with CORS and all routes registered.
func NewRouter(cfg *config.Config, anprService *service.ANPRService, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	handler := NewHandler(anprService, log)
	handler.Register(r, NewAuthMiddleware(cfg.Auth.JWTSecret))
	return r
}
