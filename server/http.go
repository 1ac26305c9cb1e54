package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/service"
)

// NewRouter builds the HTTP surface over the pipeline service.
func NewRouter(svc *service.Service) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/sessions", startSession(svc))
		api.POST("/sessions/:id/messages", submitMessage(svc))
		api.GET("/sessions/:id/report", getReport(svc))
	}
	return r
}

func startSession(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var assessment risk.Assessment
		if err := c.ShouldBindJSON(&assessment); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := svc.StartSession(c.Request.Context(), assessment)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func submitMessage(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := svc.SubmitMessage(c.Request.Context(), c.Param("id"), req.Message)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func getReport(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := svc.Report(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ferrors.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, ferrors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ferrors.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, ferrors.ErrReportNotReady):
		return http.StatusConflict
	case errors.Is(err, ferrors.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
