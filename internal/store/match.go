package store

import (
	"fmt"
	"strings"
)

// normalizeMatchQuery validates a user search expression and normalizes
// it into the FTS5 MATCH dialect. Supported syntax: bare terms (implicit
// AND), OR, NOT, "quoted phrases" and trailing-* prefix terms. Lowercase
// operators are accepted and uppercased; anything structurally invalid
// is rejected as an input error before it reaches the database.
func normalizeMatchQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", &InputError{Msg: "search query must not be empty"}
	}
	if strings.Count(trimmed, `"`)%2 != 0 {
		return "", &InputError{Msg: fmt.Sprintf("unbalanced quotes in search query %q", query)}
	}

	tokens := splitMatchTokens(trimmed)

	normalized := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, `"`) && isOperator(tok) {
			normalized = append(normalized, strings.ToUpper(tok))
			continue
		}
		normalized = append(normalized, tok)
	}

	first, last := normalized[0], normalized[len(normalized)-1]
	if isUpperOperator(first) {
		return "", &InputError{Msg: fmt.Sprintf("search query %q may not start with %s", query, first)}
	}
	if isUpperOperator(last) {
		return "", &InputError{Msg: fmt.Sprintf("search query %q may not end with %s", query, last)}
	}

	return strings.Join(normalized, " "), nil
}

// splitMatchTokens splits on whitespace, keeping quoted phrases intact.
func splitMatchTokens(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			current.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isOperator(tok string) bool {
	switch strings.ToUpper(tok) {
	case "AND", "OR", "NOT":
		return true
	}
	return false
}

func isUpperOperator(tok string) bool {
	switch tok {
	case "AND", "OR", "NOT":
		return true
	}
	return false
}
