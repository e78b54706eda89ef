package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/uelog/internal/domain"
)

type resourceDef struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

func (h *Handler) handleResourcesList() any {
	resources := []resourceDef{
		{
			URI:  "logs://recent",
			Name: "Recent Logs",
			Description: "The 100 most recent entries from the current session. " +
				"Check this first for immediate context, then use the tools for detailed filtering.",
			MimeType: "application/json",
		},
		{
			URI:  "logs://stats",
			Name: "Log Statistics",
			Description: "Current statistics: totals by source, error and warning counts, top " +
				"categories, session and instance counts. Recommended first step before diving in.",
			MimeType: "application/json",
		},
		{
			URI:  "logs://errors",
			Name: "Error Logs",
			Description: "Up to 100 most recent Error and Fatal entries from the current session. " +
				"If empty, nothing has failed at error level; check Warning via query_logs.",
			MimeType: "application/json",
		},
		{
			URI:  "logs://current-session",
			Name: "Current Session Logs",
			Description: "Up to 100 entries from the most recent session, with its session id. " +
				"Use the id with query_logs or search_logs for a deeper look.",
			MimeType: "application/json",
		},
	}
	return map[string]any{"resources": resources}
}

func (h *Handler) handleResourcesRead(params json.RawMessage) (any, error) {
	var read struct {
		URI string `json:"uri"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &read); err != nil {
			return nil, fmt.Errorf("invalid resources/read params: %v", err)
		}
	}

	var (
		result any
		err    error
	)
	switch read.URI {
	case "logs://recent":
		result, err = h.resourceRecent()
	case "logs://stats":
		result, err = h.store.Stats(nil, nil)
	case "logs://errors":
		result, err = h.resourceErrors()
	case "logs://current-session":
		result, err = h.resourceCurrentSession()
	default:
		return nil, fmt.Errorf("Unknown resource: %s", read.URI)
	}
	if err != nil {
		return nil, err
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contents": []map[string]any{{
			"uri":      read.URI,
			"mimeType": "application/json",
			"text":     string(text),
		}},
	}, nil
}

func (h *Handler) resourceRecent() (any, error) {
	logs, err := h.store.Query(domain.DefaultFilter())
	if err != nil {
		return nil, err
	}
	return emptyIfNil(logs), nil
}

func (h *Handler) resourceErrors() (any, error) {
	filter := domain.DefaultFilter()
	v := domain.VerbosityError
	filter.MinVerbosity = &v
	logs, err := h.store.Query(filter)
	if err != nil {
		return nil, err
	}
	return emptyIfNil(logs), nil
}

func (h *Handler) resourceCurrentSession() (any, error) {
	logs, err := h.store.Query(domain.DefaultFilter())
	if err != nil {
		return nil, err
	}
	sessionID, err := h.store.LatestSession(nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": sessionID,
		"count":      len(logs),
		"logs":       emptyIfNil(logs),
	}, nil
}
