package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/uelog/internal/domain"
)

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolArgs is the union of every tool's arguments. Nil means the
// caller did not pass the field.
type toolArgs struct {
	Source      *string  `json:"source"`
	Verbosity   *string  `json:"verbosity"`
	Category    *string  `json:"category"`
	Since       *float64 `json:"since"`
	Until       *float64 `json:"until"`
	Limit       *int     `json:"limit"`
	SessionID   *string  `json:"session_id"`
	InstanceID  *string  `json:"instance_id"`
	AllSessions *bool    `json:"all_sessions"`

	Query  *string  `json:"query"`
	Count  *int     `json:"count"`
	Before *float64 `json:"before"`
	Path   *string  `json:"path"`
	Name   *string  `json:"name"`
	ID     *string  `json:"id"`
}

// filter maps the shared filter arguments onto a store filter.
func (a toolArgs) filter() domain.Filter {
	f := domain.DefaultFilter()
	f.Source = a.Source
	f.Category = a.Category
	f.Since = a.Since
	f.Until = a.Until
	f.SessionID = a.SessionID
	f.InstanceID = a.InstanceID
	if a.Verbosity != nil {
		v := domain.ParseVerbosity(*a.Verbosity)
		f.MinVerbosity = &v
	}
	if a.Limit != nil {
		f.Limit = *a.Limit
	}
	if a.AllSessions != nil {
		f.AllSessions = *a.AllSessions
	}
	return f
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// filterProperties are shared by the query-shaped tools.
func filterProperties() map[string]any {
	return map[string]any{
		"source":       prop("string", "Filter by source: 'client', 'server', or 'file-tailer'. Compare client and server for networking and replication issues."),
		"verbosity":    prop("string", "Minimum severity: Fatal (most severe), Error, Warning, Display, Log, Verbose. Includes this level and above."),
		"category":     prop("string", "Filter by log category. Use get_categories to discover names. Common: LogTemp, LogNet, LogGameMode."),
		"since":        prop("number", "Unix timestamp; only logs at or after this time."),
		"until":        prop("number", "Unix timestamp; only logs at or before this time."),
		"limit":        prop("integer", "Maximum results (default: 100)."),
		"session_id":   prop("string", "Filter to one game session. Get ids from get_sessions."),
		"instance_id":  prop("string", "Filter to one client/server process within a session."),
		"all_sessions": prop("boolean", "If true, span all sessions. Default false scopes to the latest session only."),
	}
}

func (h *Handler) handleToolsList() any {
	tools := []toolDef{
		{
			Name: "query_logs",
			Description: "Query log entries with filters. Returns the latest session's logs by default.\n\n" +
				"Filter by category to isolate a subsystem, by source to compare client vs server, " +
				"by since/until to narrow to a reproduction window, or by verbosity to focus on errors first. " +
				"Returns {count, logs[]}.",
			InputSchema: objectSchema(filterProperties()),
		},
		{
			Name: "search_logs",
			Description: "Full-text search over log messages. Searches the latest session by default.\n\n" +
				"Syntax: 'player damage' matches both words, '\"player died\"' an exact phrase, " +
				"'error OR warning' either term, 'player NOT respawn' exclusion, 'play*' a prefix. " +
				"Good for entity ids, error text and event traces. Returns {count, query, logs[]}.",
			InputSchema: objectSchema(map[string]any{
				"query":        prop("string", "Search query. Quotes for phrases, OR/NOT for boolean logic, trailing * for prefix match."),
				"source":       prop("string", "Filter by source to narrow scope."),
				"verbosity":    prop("string", "Minimum severity to include."),
				"limit":        prop("integer", "Maximum results (default: 100)."),
				"session_id":   prop("string", "Search within one session only."),
				"instance_id":  prop("string", "Search within one instance only."),
				"all_sessions": prop("boolean", "If true, search across all sessions. Useful for recurring issues."),
			}, "query"),
		},
		{
			Name: "tail_logs",
			Description: "Return the most recent N entries, like Unix tail. Latest session by default.\n\n" +
				"Use for quick context after something just happened, then drill in with " +
				"search_logs or query_logs. Returns {count, logs[]}.",
			InputSchema: objectSchema(map[string]any{
				"count":        prop("integer", "Number of recent entries (default: 50)."),
				"source":       prop("string", "Filter to one source."),
				"session_id":   prop("string", "Tail one specific session."),
				"instance_id":  prop("string", "Tail one specific instance."),
				"all_sessions": prop("boolean", "If true, tail across all sessions; entries from different sessions may interleave."),
			}),
		},
		{
			Name: "get_stats",
			Description: "Log statistics: totals by source, error and warning counts, top categories, " +
				"session and instance counts, and the current session id. Recommended first step; " +
				"check errors and warnings, then drill into the noisy categories.",
			InputSchema: objectSchema(map[string]any{
				"source": prop("string", "Restrict statistics to one source."),
				"since":  prop("number", "Only count logs at or after this Unix timestamp."),
			}),
		},
		{
			Name: "get_categories",
			Description: "List the distinct log categories seen so far, sorted.\n\n" +
				"Use to discover what subsystems are logging and to find exact names " +
				"for query_logs category filters. Returns {categories[]}.",
			InputSchema: objectSchema(map[string]any{
				"source": prop("string", "Only categories seen for this source."),
			}),
		},
		{
			Name: "get_sessions",
			Description: "List game sessions, most recently active first, with time range, log count " +
				"and participating instance ids. A session groups one match or level run across " +
				"the server and its clients. Returns {count, sessions[]}.",
			InputSchema: objectSchema(map[string]any{
				"source": prop("string", "Only sessions that have logs from this source."),
				"limit":  prop("integer", "Maximum sessions to return (default: 20)."),
			}),
		},
		{
			Name: "clear_logs",
			Description: "Delete log entries. Destructive; deleted entries cannot be recovered.\n\n" +
				"Use before reproducing a bug for a clean capture, or to drop old noise. " +
				"Scope with 'source' and/or 'before' to preserve what matters. " +
				"Returns {deleted, message}.",
			InputSchema: objectSchema(map[string]any{
				"source": prop("string", "Only clear entries from this source. Omit to clear everything."),
				"before": prop("number", "Only clear entries with emit time before this Unix timestamp."),
			}),
		},
		{
			Name: "add_file_source",
			Description: "Start tailing a log file on the server host. New lines are ingested as " +
				"entries with source 'file-tailer' and the given name as category. " +
				"Returns {id} for later removal.",
			InputSchema: objectSchema(map[string]any{
				"path": prop("string", "Path of the file to tail, on the aggregation server's host."),
				"name": prop("string", "Display name used as the entries' category. Defaults to the file name."),
			}, "path"),
		},
		{
			Name:        "remove_source",
			Description: "Stop and remove a file source previously added with add_file_source. Returns {removed}.",
			InputSchema: objectSchema(map[string]any{
				"id": prop("string", "Source id as returned by add_file_source or list_sources."),
			}, "id"),
		},
		{
			Name:        "list_sources",
			Description: "List the registered file sources with their id, name, path and running state.",
			InputSchema: objectSchema(map[string]any{}),
		},
	}

	return map[string]any{"tools": tools}
}

func (h *Handler) handleToolsCall(params json.RawMessage) any {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return textResult("Error: invalid tools/call params", true)
	}

	var args toolArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return textResult(fmt.Sprintf("Error: invalid arguments: %v", err), true)
		}
	}

	var (
		result any
		err    error
	)
	switch call.Name {
	case "query_logs":
		result, err = h.toolQueryLogs(args)
	case "search_logs":
		result, err = h.toolSearchLogs(args)
	case "tail_logs":
		result, err = h.toolTailLogs(args)
	case "get_stats":
		result, err = h.store.Stats(args.Source, args.Since)
	case "get_categories":
		result, err = h.toolGetCategories(args)
	case "get_sessions":
		result, err = h.toolGetSessions(args)
	case "clear_logs":
		result, err = h.toolClearLogs(args)
	case "add_file_source":
		result, err = h.toolAddFileSource(args)
	case "remove_source":
		result, err = h.toolRemoveSource(args)
	case "list_sources":
		result = map[string]any{"sources": h.sources.List()}
	default:
		return textResult("Unknown tool: "+call.Name, true)
	}
	if err != nil {
		return textResult("Error: "+err.Error(), true)
	}
	return textResult(result, false)
}

func (h *Handler) toolQueryLogs(args toolArgs) (any, error) {
	logs, err := h.store.Query(args.filter())
	if err != nil {
		return nil, err
	}
	return logsResult(logs), nil
}

func (h *Handler) toolSearchLogs(args toolArgs) (any, error) {
	if args.Query == nil || *args.Query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}
	logs, err := h.store.Search(*args.Query, args.filter())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count": len(logs),
		"query": *args.Query,
		"logs":  emptyIfNil(logs),
	}, nil
}

func (h *Handler) toolTailLogs(args toolArgs) (any, error) {
	filter := args.filter()
	filter.Limit = 50
	if args.Count != nil {
		filter.Limit = *args.Count
	}
	logs, err := h.store.Query(filter)
	if err != nil {
		return nil, err
	}
	return logsResult(logs), nil
}

func (h *Handler) toolGetCategories(args toolArgs) (any, error) {
	categories, err := h.store.Categories(args.Source)
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []string{}
	}
	return map[string]any{"categories": categories}, nil
}

func (h *Handler) toolGetSessions(args toolArgs) (any, error) {
	sessions, err := h.store.Sessions(args.Source)
	if err != nil {
		return nil, err
	}
	limit := 20
	if args.Limit != nil {
		limit = *args.Limit
	}
	if limit >= 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return map[string]any{
		"count":    len(sessions),
		"sessions": emptyIfNil(sessions),
	}, nil
}

func (h *Handler) toolClearLogs(args toolArgs) (any, error) {
	deleted, err := h.store.Clear(args.Source, args.Before)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"deleted": deleted,
		"message": fmt.Sprintf("%d log entries deleted", deleted),
	}, nil
}

func (h *Handler) toolAddFileSource(args toolArgs) (any, error) {
	if args.Path == nil || *args.Path == "" {
		return nil, fmt.Errorf("path parameter is required")
	}
	name := ""
	if args.Name != nil {
		name = *args.Name
	}
	id, err := h.sources.AddFile(*args.Path, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

func (h *Handler) toolRemoveSource(args toolArgs) (any, error) {
	if args.ID == nil || *args.ID == "" {
		return nil, fmt.Errorf("id parameter is required")
	}
	return map[string]any{"removed": h.sources.Remove(*args.ID)}, nil
}

func logsResult(logs []domain.Entry) map[string]any {
	return map[string]any{
		"count": len(logs),
		"logs":  emptyIfNil(logs),
	}
}

// emptyIfNil keeps empty result sets serializing as [] rather than
// null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
