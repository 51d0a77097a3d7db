package agentdef

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\$\{(\w+)(:raw)?\}`)

// expandExecSugar expands an `exec: "<template>"` tool entry into the
// legacy command/parameters form (spec.md §4.2): direct-exec, no shell.
// Each ${name} placeholder becomes an argument-injection parameter, in the
// order it appears; leading non-placeholder tokens become the literal argv
// prefix.
func expandExecSugar(template string) ([]string, []rawParam) {
	var argvBase []string
	var params []rawParam
	for _, tok := range strings.Fields(template) {
		m := placeholderRE.FindStringSubmatch(tok)
		if m == nil {
			argvBase = append(argvBase, tok)
			continue
		}
		params = append(params, rawParam{Name: m[1], Type: "string", Injection: "argument"})
	}
	return argvBase, params
}

// expandShellSugar expands a `shell: "<template>"` tool entry into an
// /bin/sh -c invocation. Each ${name} (quoted reference) or ${name:raw}
// (unquoted reference) becomes a positional shell parameter ($1, $2, ...)
// passed after the script rather than interpolated into the script text
// directly, so that a parameter's value can never inject additional shell
// syntax. The :raw suffix only changes whether the script double-quotes its
// own reference to that positional parameter — values still arrive as a
// single argv element regardless, since the Tool Executor never re-splits
// them.
func expandShellSugar(template string) ([]string, []rawParam) {
	var params []rawParam
	seen := map[string]int{}
	script := placeholderRE.ReplaceAllStringFunc(template, func(tok string) string {
		m := placeholderRE.FindStringSubmatch(tok)
		name, raw := m[1], m[2] == ":raw"
		idx, ok := seen[name]
		if !ok {
			idx = len(params) + 1
			seen[name] = idx
			params = append(params, rawParam{Name: name, Type: "string", Injection: "argument"})
		}
		if raw {
			return fmt.Sprintf("$%d", idx)
		}
		return fmt.Sprintf("\"$%d\"", idx)
	})
	return []string{"/bin/sh", "-c", script, "sh"}, params
}
