package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// maxJSONDepth bounds recursion on deeply nested input.
const maxJSONDepth = 100

// JSONExtractor renders JSON documents as "path: value" lines with dotted
// paths and sorted keys. Arrays of primitives are joined on one line.
type JSONExtractor struct{}

func NewJSONExtractor() *JSONExtractor { return &JSONExtractor{} }

func (e *JSONExtractor) Extract(content []byte) (string, error) {
	content = bytes.TrimSpace(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")))
	if len(content) == 0 {
		return "", nil
	}
	var data any
	if err := json.Unmarshal(content, &data); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	var lines []string
	walkJSON("", data, 0, func(path, value string) {
		if path == "" {
			path = "value"
		}
		lines = append(lines, path+": "+value)
	})
	return strings.Join(lines, "\n"), nil
}

func walkJSON(path string, v any, depth int, emit func(path, value string)) {
	if depth >= maxJSONDepth {
		emit(path, "<truncated>")
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(val)) {
			child := k
			if path != "" {
				child = path + "." + k
			}
			walkJSON(child, val[k], depth+1, emit)
		}
	case []any:
		if !slices.ContainsFunc(val, isComposite) {
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, jsonScalar(item))
			}
			emit(path, strings.Join(parts, ", "))
			return
		}
		for _, item := range val {
			walkJSON(path, item, depth+1, emit)
		}
	case nil:
	default:
		emit(path, jsonScalar(val))
	}
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func jsonScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}
