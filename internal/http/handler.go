package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/service"
)

type Handler struct {
	anprService *service.ANPRService
	log         zerolog.Logger
}

func NewHandler(anprService *service.ANPRService, log zerolog.Logger) *Handler {
	return &Handler{
		anprService: anprService,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/api/v1")
	{
		public.GET("/cameras", h.listCameras)
		public.GET("/cameras/:id/status", h.cameraStatus)
		public.GET("/detections", h.listDetections)
		public.GET("/segments", h.listSegments)
		public.GET("/segments/:id", h.getSegment)
	}

	protected := r.Group("/api/v1/admin")
	protected.Use(authMiddleware)
	{
		protected.POST("/reconcile", h.triggerReconcile)
		protected.POST("/cleanup", h.cleanup)
	}
}

func (h *Handler) listCameras(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.anprService.CameraStatuses()))
}

func (h *Handler) cameraStatus(c *gin.Context) {
	status, err := h.anprService.CameraStatus(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) listDetections(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	minConfidence := 0.0
	if m := c.Query("min_confidence"); m != "" {
		if parsed, err := strconv.ParseFloat(m, 64); err == nil && parsed > 0 {
			minConfidence = parsed
		}
	}

	limit, offset := paging(c)

	detections, err := h.anprService.FindDetections(
		c.Request.Context(),
		strings.TrimSpace(c.Query("camera_id")),
		plateQuery, from, to, minConfidence, limit, offset,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) listSegments(c *gin.Context) {
	var state *string
	if s := strings.TrimSpace(c.Query("state")); s != "" {
		state = &s
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit, offset := paging(c)

	segments, err := h.anprService.FindSegments(
		c.Request.Context(),
		strings.TrimSpace(c.Query("camera_id")),
		state, from, to, limit, offset,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(segments))
}

func (h *Handler) getSegment(c *gin.Context) {
	seg, err := h.anprService.GetSegment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(seg))
}

func (h *Handler) triggerReconcile(c *gin.Context) {
	pending, healed := h.anprService.TriggerReconcile(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"healed":  healed,
	})
}

func (h *Handler) cleanup(c *gin.Context) {
	days := 30
	if d := c.Query("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("days must be a positive integer"))
			return
		}
		days = parsed
	}

	deleted, err := h.anprService.CleanupOldRecords(c.Request.Context(), days)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func paging(c *gin.Context) (limit, offset int) {
	limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset = 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
