package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/archive"
	"github.com/zulandar/junction/internal/capture"
	"github.com/zulandar/junction/internal/dispatch"
	"github.com/zulandar/junction/internal/integrate"
	"github.com/zulandar/junction/internal/orchestrator"
	"github.com/zulandar/junction/internal/tracker"
	"go.uber.org/zap"
)

type handlers struct {
	o      *orchestrator.Orchestrator
	queued bool
	logger *zap.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/v1")
	v1.POST("/analyze", h.analyze)
	v1.POST("/requests", h.submit)
	v1.POST("/completions", h.complete)
	v1.GET("/sessions", h.listSessions)
	v1.GET("/sessions/:id", h.getSession)
	v1.GET("/sessions/:id/report", h.getReport)
	v1.POST("/sessions/:id/archive", h.archive)
	v1.GET("/sessions/:id/events", h.events)
}

type requestBody struct {
	Request string   `json:"request" binding:"required"`
	Roles   []string `json:"roles"`
}

type completionResponse struct {
	Disposition capture.Disposition `json:"disposition"`
	Finalized   bool                `json:"finalized"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "in_flight": h.o.InFlight()})
}

func (h *handlers) analyze(c *gin.Context) {
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	dec, err := h.o.Analyze(body.Request, body.Roles)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, dec)
}

func (h *handlers) submit(c *gin.Context) {
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.o.Submit(c.Request.Context(), body.Request, body.Roles)
	if err != nil {
		var sce *dispatch.SessionCreationError
		switch {
		case errors.Is(err, dispatch.ErrCapacity):
			h.fail(c, http.StatusServiceUnavailable, err)
		case errors.As(err, &sce):
			h.fail(c, http.StatusInternalServerError, err)
		case strings.HasPrefix(err.Error(), "analyzer:"):
			badRequest(c, err)
		default:
			h.fail(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

func (h *handlers) complete(c *gin.Context) {
	var in capture.Completion
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := in.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.o.Complete(c.Request.Context(), in, h.queued)
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrUnknownTask):
		h.fail(c, http.StatusNotFound, err)
		return
	case errors.Is(err, capture.ErrSessionArchived):
		h.fail(c, http.StatusGone, err)
		return
	case strings.Contains(err.Error(), "role mismatch"):
		h.fail(c, http.StatusConflict, err)
		return
	default:
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if out.Disposition == capture.Recorded {
		status = http.StatusCreated
	}
	c.JSON(status, completionResponse{Disposition: out.Disposition, Finalized: out.Finalized})
}

func (h *handlers) listSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := orchestrator.ListSessions(c.Request.Context(), h.o.DB(), orchestrator.ListOptions{
		Status: c.Query("status"),
		Limit:  limit,
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *handlers) getSession(c *gin.Context) {
	d, err := orchestrator.GetSessionDetail(c.Request.Context(), h.o.DB(), c.Param("id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handlers) getReport(c *gin.Context) {
	rep, err := h.o.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handlers) archive(c *gin.Context) {
	moved, err := h.o.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, archive.ErrNotIntegrated) {
			h.fail(c, http.StatusConflict, err)
			return
		}
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": moved})
}

func (h *handlers) lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, tracker.ErrSessionNotFound) || errors.Is(err, integrate.ErrReportNotFound) {
		h.fail(c, http.StatusNotFound, err)
		return
	}
	h.fail(c, http.StatusInternalServerError, err)
}

func (h *handlers) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
