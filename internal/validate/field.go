package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"tidyplan/internal/domain"
)

// Generic field validators. Each is parameterized by a ref (entity kind,
// entity id, row, field) and returns zero or more findings; none of them
// mutate input or fail.

func (v *Validator) requireField(r ref, value string) []domain.Finding {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return []domain.Finding{v.finding(r, domain.SeverityError, fmt.Sprintf("%s is required", r.field))}
}

func (v *Validator) intRange(r ref, value, min, max int) []domain.Finding {
	if value >= min && value <= max {
		return nil
	}
	return []domain.Finding{v.finding(r, domain.SeverityError,
		fmt.Sprintf("%s must be between %d and %d (got %d)", r.field, min, max, value))}
}

func (v *Validator) stringMax(r ref, value string, max int) []domain.Finding {
	if len(value) <= max {
		return nil
	}
	return []domain.Finding{v.finding(r, domain.SeverityError,
		fmt.Sprintf("%s exceeds maximum length of %d characters (got %d)", r.field, max, len(value)))}
}

// listOpts parameterize the list-shape checks. Min/Max bound elements of
// integer lists; MaxLen bounds list length when positive.
type listOpts struct {
	AllowEmpty bool
	MaxLen     int
	Min        int
	Max        int
}

func (v *Validator) stringList(r ref, values []string, opts listOpts) []domain.Finding {
	var out []domain.Finding
	if len(values) == 0 {
		if !opts.AllowEmpty {
			out = append(out, v.finding(r, domain.SeverityError, fmt.Sprintf("%s must not be empty", r.field)))
		}
		return out
	}
	if opts.MaxLen > 0 && len(values) > opts.MaxLen {
		out = append(out, v.finding(r, domain.SeverityError,
			fmt.Sprintf("%s has %d entries, exceeding the maximum of %d", r.field, len(values), opts.MaxLen)))
	}
	seen := make(map[string]bool, len(values))
	dup := false
	for _, val := range values {
		if strings.TrimSpace(val) == "" {
			out = append(out, v.finding(r, domain.SeverityError, fmt.Sprintf("%s contains an empty entry", r.field)))
			continue
		}
		key := strings.ToLower(strings.TrimSpace(val))
		if seen[key] {
			dup = true
		}
		seen[key] = true
	}
	if dup {
		out = append(out, v.fixable(r, domain.SeverityWarning,
			fmt.Sprintf("%s contains duplicate entries", r.field), "remove the duplicate entries"))
	}
	return out
}

func (v *Validator) intList(r ref, values []int, opts listOpts) []domain.Finding {
	var out []domain.Finding
	if len(values) == 0 {
		if !opts.AllowEmpty {
			out = append(out, v.finding(r, domain.SeverityError, fmt.Sprintf("%s must not be empty", r.field)))
		}
		return out
	}
	if opts.MaxLen > 0 && len(values) > opts.MaxLen {
		out = append(out, v.finding(r, domain.SeverityError,
			fmt.Sprintf("%s has %d entries, exceeding the maximum of %d", r.field, len(values), opts.MaxLen)))
	}
	seen := make(map[int]bool, len(values))
	dup := false
	for _, val := range values {
		if val < opts.Min || val > opts.Max {
			out = append(out, v.finding(r, domain.SeverityError,
				fmt.Sprintf("%s entry %d is outside the range %d..%d", r.field, val, opts.Min, opts.Max)))
		}
		if seen[val] {
			dup = true
		}
		seen[val] = true
	}
	if dup {
		out = append(out, v.fixable(r, domain.SeverityWarning,
			fmt.Sprintf("%s contains duplicate entries", r.field), "remove the duplicate entries"))
	}
	return out
}

func (v *Validator) jsonField(r ref, raw string, maxBytes int) []domain.Finding {
	var out []domain.Finding
	if len(raw) > maxBytes {
		out = append(out, v.finding(r, domain.SeverityError,
			fmt.Sprintf("%s exceeds maximum size of %d characters (got %d)", r.field, maxBytes, len(raw))))
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		out = append(out, v.finding(r, domain.SeverityError,
			fmt.Sprintf("%s is not valid JSON: %v", r.field, err)))
	}
	return out
}
