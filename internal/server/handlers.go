package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nomadai/rag-gateway/internal/gateway"
	"github.com/nomadai/rag-gateway/internal/models"
)

// ==================== REST ====================

func (s *Server) ask(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("Invalid request: "+err.Error(), "invalid_request_error", "invalid_body"))
		return
	}

	apiKey := c.GetString(ctxAPIKey)
	res, err := s.gateway.Ask(detach(c), req.Query, apiKey)
	if err != nil {
		s.writeGatewayError(c, err)
		return
	}

	quota := s.gateway.Quota(apiKey)
	setQuotaHeaders(c, quota)

	switch res.Outcome {
	case gateway.OutcomeRateLimited:
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(quota.Reset.Seconds()))))
		c.JSON(http.StatusTooManyRequests, models.NewError(res.Text, "rate_limit_error", "rate_limit_exceeded"))
	case gateway.OutcomeUpstreamFailure:
		c.JSON(http.StatusBadGateway, models.NewError(res.Text, "upstream_error", "qa_service_failed"))
	default:
		c.JSON(http.StatusOK, models.AskResponse{Answer: res.Text})
	}
}

func (s *Server) quota(c *gin.Context) {
	quota := s.gateway.Quota(c.GetString(ctxAPIKey))
	setQuotaHeaders(c, quota)
	c.JSON(http.StatusOK, gin.H{
		"limit":        quota.Limit,
		"remaining":    quota.Remaining,
		"reset_second": int(math.Ceil(quota.Reset.Seconds())),
	})
}

// ==================== Admin ====================

const defaultLogLimit = 100

func (s *Server) getUsage(c *gin.Context) {
	snapshot, err := s.gateway.UsageSnapshot(c.GetHeader(headerAdminKey))
	if err != nil {
		s.writeGatewayError(c, err)
		return
	}

	var total int64
	for _, n := range snapshot {
		total += n
	}
	c.JSON(http.StatusOK, models.UsageResponse{Usage: snapshot, Total: total})
}

func (s *Server) getLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
	if err != nil {
		limit = defaultLogLimit
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.logs.GetRecent(limit)})
}

func (s *Server) clearLogs(c *gin.Context) {
	s.logs.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ==================== Helpers ====================

// detach keeps request values but drops client cancellation: once forwarded
// a question runs until it completes or the upstream timeout fires.
func detach(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func setQuotaHeaders(c *gin.Context, q gateway.Quota) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
}

func (s *Server) writeGatewayError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, models.NewError("Invalid API key", "invalid_request_error", "invalid_api_key"))
	case errors.Is(err, gateway.ErrForbidden):
		c.JSON(http.StatusForbidden, models.NewError("Not authorized", "permission_error", "invalid_admin_key"))
	case errors.Is(err, gateway.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, models.NewError(err.Error(), "invalid_request_error", "invalid_query"))
	case errors.Is(err, errUnknownTool):
		c.JSON(http.StatusNotFound, models.NewError(err.Error(), "invalid_request_error", "unknown_tool"))
	case errors.Is(err, errInvalidArguments):
		c.JSON(http.StatusBadRequest, models.NewError(err.Error(), "invalid_request_error", "invalid_arguments"))
	default:
		c.JSON(http.StatusInternalServerError, models.NewError("Internal error", "server_error", ""))
	}
}
