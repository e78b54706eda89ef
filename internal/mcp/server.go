package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/uelog/internal/diag"
	"github.com/vburojevic/uelog/internal/domain"
)

const component = "MCP"

// Store is the slice of the log store the dispatcher needs.
type Store interface {
	Query(filter domain.Filter) ([]domain.Entry, error)
	Search(query string, filter domain.Filter) ([]domain.Entry, error)
	Stats(source *string, since *float64) (domain.Stats, error)
	Categories(source *string) ([]string, error)
	Sessions(source *string) ([]domain.SessionInfo, error)
	LatestSession(source *string) (string, error)
	Clear(source *string, before *float64) (int64, error)
}

// SourceRegistry manages runtime-added log sources.
type SourceRegistry interface {
	AddFile(path, name string) (string, error)
	Remove(id string) bool
	List() []domain.SourceInfo
}

// Handler dispatches JSON-RPC messages against the store and the
// source registry. Safe for concurrent use; all state lives behind the
// store and registry guards.
type Handler struct {
	store   Store
	sources SourceRegistry
}

// NewHandler builds the dispatcher.
func NewHandler(store Store, sources SourceRegistry) *Handler {
	return &Handler{store: store, sources: sources}
}

// Handle processes one raw message and returns the response body, or
// nil for notifications. Plugs directly into the SSE server's
// MessageHandler slot.
func (h *Handler) Handle(sessionID string, message []byte) (out []byte) {
	var req request
	if err := json.Unmarshal(message, &req); err != nil {
		return errorResponse(nil, codeParseError, "Parse error")
	}

	diag.Logf(component, "%s (session: %s)", req.Method, sessionID)

	// A panic anywhere below becomes an internal-error envelope; the
	// dispatcher must never take the transport down.
	defer func() {
		if r := recover(); r != nil {
			diag.Errorf(component, "dispatch panic: %v", r)
			out = errorResponse(req.ID, codeInternalError, fmt.Sprint(r))
		}
	}()

	var (
		result any
		err    error
	)
	switch req.Method {
	case "initialize":
		result = h.handleInitialize()
	case "notifications/initialized":
		return nil
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = h.handleToolsList()
	case "tools/call":
		result = h.handleToolsCall(req.Params)
	case "resources/list":
		result = h.handleResourcesList()
	case "resources/read":
		result, err = h.handleResourcesRead(req.Params)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "Method not found: "+req.Method)
	}
	if err != nil {
		return errorResponse(req.ID, codeInternalError, err.Error())
	}

	if req.isNotification() {
		return nil
	}
	return successResponse(req.ID, result)
}

func (h *Handler) handleInitialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
			"resources": map[string]any{
				"subscribe": false,
			},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
			"description": "Unreal Engine log aggregation server. Collects logs from " +
				"game clients, dedicated servers and log files, and exposes them for querying.\n\n" +
				"Suggested workflow:\n" +
				"1. get_stats (or logs://stats) for error/warning counts and hot categories\n" +
				"2. logs://errors for the Fatal and Error entries\n" +
				"3. get_categories to discover which subsystems are logging\n" +
				"4. query_logs with a category filter to isolate one subsystem\n" +
				"5. search_logs for specific messages, entity ids or error text\n" +
				"6. get_sessions to compare behavior across play sessions\n\n" +
				"Entry fields: source (client/server/file-tailer), category, verbosity " +
				"(Fatal > Error > Warning > Display > Log > Verbose), message, timestamp " +
				"(game seconds), frame, session_id (one game session across processes), " +
				"instance_id (one process within a session), file/line when available.",
		},
	}
}
