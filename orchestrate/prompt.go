package orchestrate

import (
	"strings"
	"time"
)

// Interpolate substitutes {{name}} placeholders in template with values from
// vars. It is a pure function: the template is never mutated, unknown
// placeholders are left as-is, and calling it twice with the same inputs
// yields the same output.
func Interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// PromptVars builds the standard substitution context for a call. The
// current time is resolved at call time, which is what keeps long calls'
// system turns fresh.
func PromptVars(callerID, agentName string) map[string]string {
	now := time.Now()
	return map[string]string{
		"current_time": now.Format("Monday, January 2, 2006 at 3:04 PM MST"),
		"caller_id":    callerID,
		"agent_name":   agentName,
	}
}
