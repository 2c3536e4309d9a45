// Package parse normalizes loosely-typed spreadsheet cell values into
// semantic lists. The parsers are deliberately lossy: malformed input
// degrades to an empty or partial list, never to an error, so that the
// validators downstream can report "empty where non-empty is required"
// as a finding instead of the pipeline failing.
package parse

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// StringList coerces a cell value into a list of trimmed strings.
//
// Already-array values are passed through with each element stringified.
// A string shaped like "[a, b, c]" is parsed as JSON first, falling back to
// stripping the brackets and splitting on commas. Any other string is
// comma-split with empty tokens discarded. Anything else yields an empty
// list.
func StringList(value any) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			out = append(out, stringify(el))
		}
		return out
	case string:
		return stringListFromText(v)
	default:
		return []string{}
	}
}

// IntList coerces a cell value into a list of integers by delegating to
// StringList and mapping each token through numeric parsing. Tokens that do
// not parse as whole numbers are discarded, not propagated.
func IntList(value any) []int {
	if v, ok := value.([]int); ok {
		out := make([]int, len(v))
		copy(out, v)
		return out
	}
	tokens := StringList(value)
	out := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if n, ok := parseWholeNumber(tok); ok {
			out = append(out, n)
		}
	}
	return out
}

func stringListFromText(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return []string{}
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			out := make([]string, 0, len(arr))
			for _, el := range arr {
				out = append(out, stringify(el))
			}
			return out
		}
		// JSON failed; strip the brackets and fall through to comma-split.
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), `"'`))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stringify(el any) string {
	switch v := el.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func parseWholeNumber(tok string) (int, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
