// Package prompt renders agent prompt templates.
//
// Templates use single-brace placeholders such as {message} and {context}.
// Doubled braces produce literal braces.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMissingVariable = errors.New("missing template variable")

const DefaultMaxExamples = 3

type Example struct {
	Input  string
	Output string
}

func Render(template string, vars map[string]string) (string, error) {
	var out strings.Builder
	out.Grow(len(template))
	for i := 0; i < len(template); i++ {
		ch := template[i]
		switch ch {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				out.WriteByte(ch)
				continue
			}
			name := template[i+1 : i+1+end]
			if !isIdentifier(name) {
				out.WriteByte(ch)
				continue
			}
			value, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingVariable, name)
			}
			out.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				i++
			}
			out.WriteByte('}')
		default:
			out.WriteByte(ch)
		}
	}
	return out.String(), nil
}

// Variables lists the distinct placeholder names in order of first use.
func Variables(template string) []string {
	var names []string
	seen := map[string]struct{}{}
	for i := 0; i < len(template); i++ {
		if template[i] != '{' {
			continue
		}
		if i+1 < len(template) && template[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(template[i+1:], '}')
		if end < 0 {
			break
		}
		name := template[i+1 : i+1+end]
		if !isIdentifier(name) {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		i += end + 1
	}
	return names
}

func isIdentifier(value string) bool {
	if value == "" {
		return false
	}
	for i, r := range value {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// FormatContext renders values as sorted "key: value" lines.
func FormatContext(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+formatValue(values[key]))
	}
	return strings.Join(lines, "\n")
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

// FormatExamples renders at most max examples; max below 1 uses DefaultMaxExamples.
func FormatExamples(examples []Example, max int) string {
	if max < 1 {
		max = DefaultMaxExamples
	}
	if len(examples) > max {
		examples = examples[:max]
	}
	if len(examples) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString("Examples:")
	for _, example := range examples {
		out.WriteString("\nInput: ")
		out.WriteString(strings.TrimSpace(example.Input))
		out.WriteString("\nOutput: ")
		out.WriteString(strings.TrimSpace(example.Output))
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}

// BuildContext joins the formatted context values and the examples block.
func BuildContext(values map[string]any, examples []Example) string {
	parts := make([]string, 0, 2)
	if formatted := FormatContext(values); formatted != "" {
		parts = append(parts, formatted)
	}
	if formatted := FormatExamples(examples, DefaultMaxExamples); formatted != "" {
		parts = append(parts, formatted)
	}
	return strings.Join(parts, "\n\n")
}
