package templates

import (
	"strconv"
	"strings"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/contextdata"
)

// applyFilters runs the pipe-separated filter chain from a placeholder
// expression over a context value. present reports whether the variable
// existed in the context at all, which the default filter keys on.
func applyFilters(val interface{}, present bool, filterExpr string) (string, error) {
	if filterExpr == "" {
		if !present {
			return "", nil
		}
		return contextdata.Stringify(val), nil
	}
	for _, raw := range strings.Split(filterExpr, "|") {
		if raw == "" {
			continue
		}
		name, arg := raw, ""
		if i := strings.Index(raw, ":"); i >= 0 {
			name = raw[:i]
			arg = strings.Trim(raw[i+1:], `"`)
		}
		var err error
		val, present, err = runFilter(name, arg, val, present)
		if err != nil {
			return "", err
		}
	}
	if !present {
		return "", nil
	}
	return contextdata.Stringify(val), nil
}

func runFilter(name, arg string, val interface{}, present bool) (interface{}, bool, error) {
	switch name {
	case "default":
		if !present || val == nil || val == "" {
			return arg, true, nil
		}
		return val, true, nil
	case "truncatechars":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return nil, false, errors.NewTemplateRenderError("truncatechars needs a numeric argument", nil)
		}
		s := contextdata.Stringify(val)
		r := []rune(s)
		if len(r) <= n {
			return s, present, nil
		}
		if n == 0 {
			return "", present, nil
		}
		return string(r[:n-1]) + "…", present, nil
	case "isodate":
		switch v := val.(type) {
		case time.Time:
			return v.UTC().Format("2006-01-02"), present, nil
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC().Format("2006-01-02"), present, nil
			}
			return v, present, nil
		default:
			return contextdata.Stringify(val), present, nil
		}
	case "title":
		s := contextdata.Stringify(val)
		words := strings.Fields(s)
		for i, w := range words {
			r := []rune(w)
			words[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
		}
		return strings.Join(words, " "), present, nil
	case "yesno":
		choices := strings.Split(arg, ",")
		yes, no := "yes", "no"
		if len(choices) >= 2 {
			yes, no = choices[0], choices[1]
		}
		if b, ok := val.(bool); ok && b {
			return yes, true, nil
		}
		return no, true, nil
	default:
		return nil, false, errors.NewTemplateRenderError("unknown filter: "+name, nil)
	}
}

// hasDefaultFilter reports whether the chain contains a default filter,
// which makes a missing variable legal even in strict mode.
func hasDefaultFilter(filterExpr string) bool {
	return strings.Contains(filterExpr, "|default")
}
