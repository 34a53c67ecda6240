// Package template resolves {{{placeholder}}} expressions against a
// conversation variable bag and assembles transport-agnostic outbound
// message payloads from declarative node content.
package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// NA is the literal substituted for any unresolved or malformed expression.
// Resolution never fails; it degrades to NA.
const NA = "NA"

const stringifyPrefix = "JSON.stringify("

var placeholderPattern = regexp.MustCompile(`\{\{\{([^}]+)\}\}\}`)

// gjson path characters that must be escaped when a segment is used
// literally.
var gjsonEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`#`, `\#`,
	`@`, `\@`,
	`|`, `\|`,
)

// Resolve substitutes every {{{expression}}} placeholder in template against
// the variable bag.
//
// Resolution rules, in order:
//   - the raw expression including delimiters present as a bag key
//     substitutes that value verbatim (escape hatch for keys containing
//     dots or brackets);
//   - a JSON.stringify(path) directive substitutes the JSON serialization of
//     the value the inner path resolves to;
//   - otherwise the expression splits on '.', '[' and ']' into path segments
//     walked through the bag: map traversal by key presence, slice traversal
//     by non-negative integer index. Any missing segment yields NA.
func Resolve(template string, bag any) string {
	if !strings.Contains(template, "{{{") {
		return template
	}

	encoded, err := json.Marshal(bag)
	if err != nil {
		// An unencodable bag resolves every placeholder to NA.
		slog.Warn("Template bag not JSON-encodable, placeholders degrade to NA", "error", err)
		encoded = nil
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(match[3 : len(match)-3])

		if m, ok := bag.(map[string]any); ok {
			if value, present := m[match]; present {
				return leafToString(value)
			}
		}

		if strings.HasPrefix(expr, stringifyPrefix) && strings.HasSuffix(expr, ")") {
			inner := strings.TrimSpace(expr[len(stringifyPrefix) : len(expr)-1])
			result := walk(encoded, inner)
			if !result.Exists() {
				return NA
			}
			return result.Raw
		}

		result := walk(encoded, expr)
		if !result.Exists() {
			return NA
		}
		return resultToString(result)
	})
}

// walk resolves a dotted/bracketed path expression against the encoded bag.
func walk(encoded []byte, expr string) gjson.Result {
	segments := splitPath(expr)
	if len(segments) == 0 {
		return gjson.Result{}
	}
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = gjsonEscaper.Replace(seg)
	}
	return gjson.GetBytes(encoded, strings.Join(escaped, "."))
}

// splitPath splits an expression on '.', '[' and ']', dropping empty
// segments.
func splitPath(expr string) []string {
	parts := strings.FieldsFunc(expr, func(r rune) bool {
		return r == '.' || r == '[' || r == ']'
	})
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resultToString renders a resolved leaf for plain substitution.
func resultToString(r gjson.Result) string {
	if r.Type == gjson.Null {
		return "null"
	}
	return r.String()
}

// leafToString renders an escape-hatch bag value for substitution.
func leafToString(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return NA
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
