package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/IvanBrykalov/tilecache/coord"
	"github.com/IvanBrykalov/tilecache/loop"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pkg/telemetry"
	"github.com/IvanBrykalov/tilecache/query"
	"github.com/IvanBrykalov/tilecache/source"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

type handler struct {
	svc *Service
}

type (
	tileRequest struct {
		Z int `json:"z" binding:"gte=0,lte=24"`
		X int `json:"x"`
		Y int `json:"y" binding:"gte=0"`
	}

	retainRequest struct {
		Tiles []tileRequest `json:"tiles" binding:"dive"`
	}

	pointRequest struct {
		Point  coord.Point  `json:"point"`
		Params query.Params `json:"params"`
	}

	areaRequest struct {
		Min    coord.Point  `json:"min"`
		Max    coord.Point  `json:"max"`
		Params query.Params `json:"params"`
	}

	featuresResponse struct {
		Features []query.Feature `json:"features"`
	}
)

func newRouter(svc *Service, gatherer prometheus.Gatherer, l logger.Logger, telemetryEnabled bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware())
	}

	r.Use(ginZapLogger(l))

	h := &handler{svc: svc}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.GET("/sources", h.listSources)
	v1.POST("/sources", h.createSource)
	v1.GET("/sources/:id", h.getSource)
	v1.DELETE("/sources/:id", h.deleteSource)
	v1.PUT("/sources/:id/retain", h.retain)
	v1.GET("/sources/:id/tiles", h.tiles)
	v1.POST("/sources/:id/redo-placement", h.redoPlacement)
	v1.POST("/sources/:id/features/point", h.featuresAt)
	v1.POST("/sources/:id/features/area", h.featuresIn)

	return r
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"size", c.Writer.Size(),
		)
	}
}

func (h *handler) listSources(c *gin.Context) {
	infos, err := h.svc.Sources(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": infos})
}

// createSource registers a source. With ?wait=true it answers once the
// source has loaded or failed.
func (h *handler) createSource(c *gin.Context) {
	var opt source.Options
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := h.svc.AddSource(c.Request.Context(), opt)
	if err != nil {
		fail(c, err)
		return
	}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"id": opt.ID})
		return
	}
	select {
	case ev := <-events:
		if ev.Kind == source.EventError {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"id": opt.ID, "error": ev.Err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": opt.ID})
	case <-c.Request.Context().Done():
		fail(c, c.Request.Context().Err())
	}
}

func (h *handler) getSource(c *gin.Context) {
	info, err := h.svc.Source(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) deleteSource(c *gin.Context) {
	if err := h.svc.RemoveSource(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) retain(c *gin.Context) {
	var req retainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coords := lo.Map(req.Tiles, func(t tileRequest, _ int) coord.Coord { return coord.Wrapped(t.Z, t.X, t.Y) })
	if bad, found := lo.Find(coords, func(c coord.Coord) bool { return !c.Valid() }); found {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid tile " + bad.String()})
		return
	}
	if err := h.svc.Retain(c.Request.Context(), c.Param("id"), coords); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) tiles(c *gin.Context) {
	ti, err := h.svc.Tiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ti)
}

func (h *handler) redoPlacement(c *gin.Context) {
	if err := h.svc.RedoPlacement(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) featuresAt(c *gin.Context) {
	var req pointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fs, err := h.svc.FeaturesAt(c.Request.Context(), c.Param("id"), req.Point, req.Params)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, featuresResponse{Features: fs})
}

func (h *handler) featuresIn(c *gin.Context) {
	var req areaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Min.Zoom != req.Max.Zoom {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "min and max must share a zoom"})
		return
	}
	b := coord.Bounds{Min: req.Min, Max: req.Max}
	fs, err := h.svc.FeaturesIn(c.Request.Context(), c.Param("id"), b, req.Params)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, featuresResponse{Features: fs})
}

// fail maps service errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrSourceExists):
		status = http.StatusConflict
	case errors.Is(err, source.ErrInvalidOptions),
		errors.Is(err, source.ErrUnsupportedKind),
		errors.Is(err, ErrNotQueryable):
		status = http.StatusBadRequest
	case errors.Is(err, loop.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
