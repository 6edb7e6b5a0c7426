package scenario

import (
	"fmt"
	"regexp"
	"strings"
)

// templateToken matches a "{{name}}" placeholder: either "root", for the
// scenario's scratch directory, or "vars.<as>.<field>...", for a value an
// earlier step captured under its "as" name.
var templateToken = regexp.MustCompile(`\{\{([a-zA-Z0-9_.]+)\}\}`)

// resolveToken looks up name against root or vars, returning the resolved
// value (which may be a string, number, bool, or nested map/slice if the
// whole arg value was a single token) and whether it resolved at all.
func resolveToken(name, root string, vars map[string]interface{}) (interface{}, bool) {
	if name == "root" {
		return root, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 || parts[0] != "vars" {
		return nil, false
	}
	var cur interface{} = vars
	for _, p := range parts[1:] {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// substituteTemplate resolves every "{{...}}" token in v's string leaves.
// A leaf that is exactly one token substitutes by value, preserving the
// resolved value's type (so a captured revision number stays a number
// rather than becoming a string); a
// token embedded in a larger string substitutes by its string form.
func substituteTemplate(v interface{}, root string, vars map[string]interface{}) interface{} {
	switch x := v.(type) {
	case string:
		if m := templateToken.FindStringSubmatch(x); m != nil && m[0] == x {
			if resolved, ok := resolveToken(m[1], root, vars); ok {
				return resolved
			}
			return x
		}
		return templateToken.ReplaceAllStringFunc(x, func(tok string) string {
			name := templateToken.FindStringSubmatch(tok)[1]
			if resolved, ok := resolveToken(name, root, vars); ok {
				return fmt.Sprintf("%v", resolved)
			}
			return tok
		})
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = substituteTemplate(e, root, vars)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = substituteTemplate(e, root, vars)
		}
		return out
	default:
		return x
	}
}

// resolveArgs expands every template token in rawArgs, iterating a few
// times so a captured value that itself still carries a "{{root}}"
// placeholder (a redacted result captured by an earlier step) resolves
// fully rather than leaving the placeholder text behind.
func resolveArgs(rawArgs map[string]interface{}, root string, vars map[string]interface{}) map[string]interface{} {
	var v interface{} = rawArgs
	for i := 0; i < 3; i++ {
		v = substituteTemplate(v, root, vars)
	}
	out, _ := v.(map[string]interface{})
	return out
}

// resolveExpect expands vars references the same way resolveArgs does, but
// leaves "{{root}}" as the literal placeholder rather than the scratch
// directory: an expect/assert clause is written against a recorded
// result, which is itself always in redacted, "{{root}}"-relative form, so
// a token like "{{vars.ingested.path}}" should resolve to that same
// redacted string, not to a real filesystem path.
func resolveExpect(m map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	return resolveArgs(m, rootPlaceholder, vars)
}
