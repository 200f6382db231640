package models

// QARequest is the body forwarded to the QA service's POST /rag
type QARequest struct {
	Question string `json:"question"`
}

// QAResponse is what the QA service returns. Answer is a pointer so a
// missing field can be told apart from an empty answer.
type QAResponse struct {
	Answer *string `json:"answer"`
}

// AskRequest is the body of POST /v1/ask
type AskRequest struct {
	Query string `json:"query" binding:"required"`
}

// AskResponse is the body returned by POST /v1/ask
type AskResponse struct {
	Answer string `json:"answer"`
}

// AskRAGArgs are the arguments of the ask_rag tool
type AskRAGArgs struct {
	Query  string `json:"query"`
	APIKey string `json:"api_key"`
}

// UsageStatsArgs are the arguments of the usage_stats tool
type UsageStatsArgs struct {
	AdminKey string `json:"admin_key"`
}

// ToolResult wraps the string result of a tool call
type ToolResult struct {
	Result string `json:"result"`
}

// UsageResponse is the body of GET /admin/usage
type UsageResponse struct {
	Usage map[string]int64 `json:"usage"`
	Total int64            `json:"total"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides error details
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// NewError builds an ErrorResponse
func NewError(message, typ, code string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: typ, Code: code}}
}
