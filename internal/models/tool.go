package models

import "encoding/json"

// Tool names exposed on the tool-call surface
const (
	ToolAskRAG     = "ask_rag"
	ToolUsageStats = "usage_stats"
)

// ToolDescriptor describes one callable tool and its JSON schema
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Tools returns the descriptors of every tool the gateway serves
func Tools() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        ToolAskRAG,
			Description: "Answer a question from the document knowledge base. Requires a valid API key; limited per key.",
			InputSchema: objectSchema([]string{"query", "api_key"}, map[string]string{
				"query":   "The question to answer",
				"api_key": "Caller API key",
			}),
		},
		{
			Name:        ToolUsageStats,
			Description: "Report lifetime request counts per API key. Requires the administrator key.",
			InputSchema: objectSchema([]string{"admin_key"}, map[string]string{
				"admin_key": "Administrator key",
			}),
		},
	}
}

func objectSchema(required []string, props map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]interface{}{
			"type":        "string",
			"description": desc,
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// JSON-RPC 2.0 envelope used by the /mcp endpoint

const JSONRPCVersion = "2.0"

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32001
	CodeForbidden      = -32003
)

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolCallParams are the params of tools/call
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is one item of a tools/call result
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the result of tools/call
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult wraps text as a single content block
func TextResult(text string, isError bool) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}
