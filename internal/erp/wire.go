package erp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const protocolVersion = "0.25"

// Protocol actions.
const (
	actionRequest   = "request"
	actionGetObject = "getObject"
)

// envelope is the body every request carries.
type envelope struct {
	Version string      `json:"version"`
	Key     string      `json:"key"`
	Action  string      `json:"action"`
	Params  interface{} `json:"params"`
}

// Filter is one condition of a "request" action.
type Filter struct {
	Alias    string      `json:"alias"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Filter operators the remote understands.
const (
	OpEquals = "equals"
	OpInList = "value in list"
)

type requestParams struct {
	From    string   `json:"from"`
	Fields  []string `json:"fields"`
	Filters []Filter `json:"filters"`
	Limit   int      `json:"limit,omitempty"`
}

type getObjectParams struct {
	ID string `json:"id"`
}

// normalizeRows flattens the remote's response shapes into one canonical
// row slice. The remote may answer with a bare array, a wrapper object
// ({data|rows|result|items: [...]}), or a single bare object.
func normalizeRows(raw json.RawMessage) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode response array: %w", err)
		}
		return rows, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode response object: %w", err)
	}

	for _, wrapper := range []string{"data", "rows", "result", "items"} {
		inner, ok := obj[wrapper]
		if !ok {
			continue
		}
		switch v := inner.(type) {
		case []interface{}:
			rows := make([]map[string]interface{}, 0, len(v))
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					rows = append(rows, m)
				}
			}
			return rows, nil
		case map[string]interface{}:
			return []map[string]interface{}{v}, nil
		}
	}

	// A single bare object is one row.
	return []map[string]interface{}{obj}, nil
}

// stringField returns the first non-empty value among keys, rendered as a
// string. The remote is loose about types: ids and quantities arrive as
// numbers or strings depending on the endpoint.
func stringField(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		switch value := v.(type) {
		case string:
			if s := strings.TrimSpace(value); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(value)
		}
	}
	return ""
}

func intField(row map[string]interface{}, keys ...string) int {
	s := stringField(row, keys...)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}
