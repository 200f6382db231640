package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomadai/rag-gateway/internal/gateway"
	"github.com/nomadai/rag-gateway/internal/models"
)

var (
	errUnknownTool      = errors.New("unknown tool")
	errInvalidArguments = errors.New("invalid tool arguments")
)

// toolOutput is the string result of a tool plus whether it reports a failure
type toolOutput struct {
	Text    string
	Outcome gateway.Outcome
}

// callTool dispatches one tool invocation. Authentication failures come back
// as errors; everything else is a displayable string.
func (s *Server) callTool(ctx context.Context, name string, raw json.RawMessage) (toolOutput, error) {
	switch name {
	case models.ToolAskRAG:
		var args models.AskRAGArgs
		if err := decodeArgs(raw, &args); err != nil {
			return toolOutput{}, err
		}
		res, err := s.gateway.Ask(ctx, args.Query, args.APIKey)
		if err != nil {
			return toolOutput{}, err
		}
		return toolOutput{Text: res.Text, Outcome: res.Outcome}, nil

	case models.ToolUsageStats:
		var args models.UsageStatsArgs
		if err := decodeArgs(raw, &args); err != nil {
			return toolOutput{}, err
		}
		text, err := s.gateway.Usage(args.AdminKey)
		if err != nil {
			return toolOutput{}, err
		}
		return toolOutput{Text: text, Outcome: gateway.OutcomeAnswered}, nil
	}

	return toolOutput{}, fmt.Errorf("%w: %q", errUnknownTool, name)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": models.Tools()})
}

// callToolHandler serves POST /tools/:name with the arguments as JSON body
func (s *Server) callToolHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("Failed to read body", "invalid_request_error", "invalid_body"))
		return
	}

	out, err := s.callTool(detach(c), c.Param("name"), body)
	if err != nil {
		s.writeGatewayError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ToolResult{Result: out.Text})
}
