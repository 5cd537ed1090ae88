package toolruntime

import (
	"encoding/json"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
)

// jsonSchemaOf normalizes an MCP tool's input schema into a map that
// satisfies the stricter object/array requirements most LLM tool-calling
// APIs impose: every object needs a properties map, every array needs an
// items schema.
func jsonSchemaOf(tool *mcppkg.Tool) map[string]any {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if tool.InputSchema != nil {
		if b, err := json.Marshal(tool.InputSchema); err == nil {
			var m map[string]any
			if json.Unmarshal(b, &m) == nil && m != nil {
				for k, v := range m {
					params[k] = v
				}
			}
		}
	}
	sanitizeSchema(params)
	return params
}

func sanitizeSchema(s map[string]any) {
	if hasType(s["type"], "object") {
		if _, ok := s["properties"].(map[string]any); !ok {
			s["properties"] = map[string]any{}
		}
	}
	if hasType(s["type"], "array") {
		if _, ok := s["items"].(map[string]any); !ok {
			s["items"] = map[string]any{"type": "string"}
		}
	}
	if props, ok := s["properties"].(map[string]any); ok {
		for _, v := range props {
			if m, ok := v.(map[string]any); ok {
				sanitizeSchema(m)
			}
		}
	}
	if it, ok := s["items"].(map[string]any); ok {
		sanitizeSchema(it)
	}
	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if arr, ok := s[key].([]any); ok {
			for _, v := range arr {
				if m, ok := v.(map[string]any); ok {
					sanitizeSchema(m)
				}
			}
		}
	}
	if req, ok := s["required"].([]any); ok {
		out := make([]string, 0, len(req))
		for _, x := range req {
			if xs, ok := x.(string); ok {
				out = append(out, xs)
			}
		}
		s["required"] = out
	}
}

func hasType(v any, want string) bool {
	switch tt := v.(type) {
	case string:
		return tt == want
	case []any:
		for _, x := range tt {
			if xs, ok := x.(string); ok && xs == want {
				return true
			}
		}
	}
	return false
}
