package tools

import (
	"strconv"
	"strings"
)

// Argument payloads arrive as string-keyed maps shaped by the model or by the
// workflow controller; values are coerced leniently and fall back to the
// tool's documented default rather than failing.

func argString(args map[string]any, key, fallback string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return fallback
		}
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return fallback
}

// argYears reads a duration-in-years argument constrained to the allowed
// tiers; anything unrecognized degrades to the cheapest tier.
func argYears(args map[string]any, key string, allowed ...int) int {
	if len(allowed) == 0 {
		return 0
	}
	cheapest := allowed[0]
	v := argInt(args, key, cheapest)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return cheapest
}
