package scenario

import "fmt"

// args wraps a decoded YAML argument map with typed accessors, so a
// dispatch case reads like a real call site instead of repeating type
// assertions. Missing or wrong-typed fields surface as an error rather than
// a panic, since fixtures are untrusted input, not compiled Go.
type args map[string]interface{}

func (a args) str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: want string, got %T", key, v)
	}
	return s, nil
}

func (a args) strOr(key, def string) string {
	s, err := a.str(key)
	if err != nil {
		return def
	}
	return s
}

func (a args) boolOr(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func (a args) int64Or(key string, def int64) int64 {
	v, ok := a[key]
	if !ok {
		return def
	}
	return toInt64(v)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (a args) strSlice(key string) []string {
	v, ok := a[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a args) int64Slice(key string) []int64 {
	v, ok := a[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, e := range raw {
		out = append(out, toInt64(e))
	}
	return out
}

// int64Map reads key as a map of string to integer, the shape a revision
// snapshot or a per-dependency revision pin is given in.
func (a args) int64Map(key string) map[string]int64 {
	v, ok := a[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(raw))
	for k, e := range raw {
		out[k] = toInt64(e)
	}
	return out
}
