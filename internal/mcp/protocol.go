// Package mcp implements the Model Context Protocol surface: a JSON-RPC
// 2.0 dispatcher exposing the log store to AI agents as tools and
// read-only resources.
package mcp

import "encoding/json"

// Protocol constants pinned to the profile the clients speak.
const (
	protocolVersion = "2024-11-05"
	serverName      = "uelog-server"
	serverVersion   = "1.0.0"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// request is one incoming JSON-RPC message. A nil ID marks a
// notification; the dispatcher produces no response for those.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (r request) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func successResponse(id json.RawMessage, result any) []byte {
	return mustMarshal(response{JSONRPC: "2.0", ID: normalizeID(id), Result: result})
}

func errorResponse(id json.RawMessage, code int, message string) []byte {
	return mustMarshal(response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &rpcError{Code: code, Message: message},
	})
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// mustMarshal is safe here: every response value is built from
// marshal-friendly types.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc": "2.0", "id": null, "error": {"code": -32603, "message": "response marshal failure"}}`)
	}
	return data
}

// toolResult is the tools/call envelope. Text carries a JSON dump of
// the tool's output, or a diagnostic when IsError is set.
type toolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(v any, isError bool) toolResult {
	var text string
	if s, ok := v.(string); ok && isError {
		text = s
	} else {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return toolResult{
				Content: []contentItem{{Type: "text", Text: "Error: result marshal failure"}},
				IsError: true,
			}
		}
		text = string(data)
	}
	return toolResult{
		Content: []contentItem{{Type: "text", Text: text}},
		IsError: isError,
	}
}
