package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomadai/rag-gateway/internal/gateway"
	"github.com/nomadai/rag-gateway/internal/models"
	"go.uber.org/zap"
)

const (
	mcpProtocolVersion = "2025-03-26"
	mcpServerName      = "Authenticated RAG MCP Server"
)

// handleMCP serves the JSON-RPC 2.0 tool protocol over plain HTTP POST.
// Only single requests are supported; batches are rejected.
func (s *Server) handleMCP(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusOK, rpcError(nil, models.CodeParseError, "failed to read body"))
		return
	}

	var req models.RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, rpcError(nil, models.CodeParseError, "parse error"))
		return
	}
	if req.JSONRPC != models.JSONRPCVersion || req.Method == "" {
		c.JSON(http.StatusOK, rpcError(req.ID, models.CodeInvalidRequest, "invalid request"))
		return
	}

	// Notifications get no response body
	if len(req.ID) == 0 {
		c.Status(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    gin.H{"tools": gin.H{}},
			"serverInfo":      gin.H{"name": mcpServerName, "version": Version},
		}))
	case "ping":
		c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{}))
	case "tools/list":
		c.JSON(http.StatusOK, rpcResult(req.ID, gin.H{"tools": models.Tools()}))
	case "tools/call":
		s.mcpToolCall(c, req)
	default:
		c.JSON(http.StatusOK, rpcError(req.ID, models.CodeMethodNotFound, "method not found: "+req.Method))
	}
}

func (s *Server) mcpToolCall(c *gin.Context, req models.RPCRequest) {
	var params models.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		c.JSON(http.StatusOK, rpcError(req.ID, models.CodeInvalidParams, "invalid tools/call params"))
		return
	}

	out, err := s.callTool(detach(c), params.Name, params.Arguments)
	if err != nil {
		code, msg := rpcErrorFor(err)
		s.logger.Debug("MCP tool call rejected",
			zap.String("tool", params.Name),
			zap.Int("code", code))
		c.JSON(http.StatusOK, rpcError(req.ID, code, msg))
		return
	}

	isError := out.Outcome == gateway.OutcomeUpstreamFailure
	c.JSON(http.StatusOK, rpcResult(req.ID, models.TextResult(out.Text, isError)))
}

func rpcErrorFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return models.CodeUnauthorized, "Invalid API key"
	case errors.Is(err, gateway.ErrForbidden):
		return models.CodeForbidden, "Not authorized"
	case errors.Is(err, gateway.ErrInvalidQuery),
		errors.Is(err, errUnknownTool),
		errors.Is(err, errInvalidArguments):
		return models.CodeInvalidParams, err.Error()
	}
	return models.CodeInternalError, "internal error"
}

func rpcResult(id json.RawMessage, result interface{}) models.RPCResponse {
	return models.RPCResponse{JSONRPC: models.JSONRPCVersion, ID: id, Result: result}
}

func rpcError(id json.RawMessage, code int, msg string) models.RPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return models.RPCResponse{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Error:   &models.RPCError{Code: code, Message: msg},
	}
}
