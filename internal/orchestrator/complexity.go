package orchestrator

import (
	"strings"

	"github.com/fenwick-io/llmgateway/internal/cost"
)

// codeKeywords etc. implement spec §4.14's complexity inference keyword
// table (explicit > agent-default > keyword inference > simple).
var codeKeywords = []string{"code", "function", "class", "implement", "bug", "debug", "refactor", "python", "javascript", "typescript", "api"}
var complexKeywords = []string{"architecture", "design", "system", "database", "security", "performance", "scalability", "review"}
var criticalKeywords = []string{"critical", "production", "emergency", "urgent", "security breach"}
var mediumKeywords = []string{"explain", "how to", "why", "compare", "recommend"}

var agentDefaults = map[string]cost.Complexity{
	"analyst":   cost.ComplexitySimple,
	"dev":       cost.ComplexityCode,
	"architect": cost.ComplexityComplex,
	"reviewer":  cost.ComplexityMedium,
	"qa":        cost.ComplexitySimple,
	"pm":        cost.ComplexitySimple,
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// DetermineComplexity resolves task complexity per spec §4.14: explicit
// request field wins, else the agent's default, else keyword inference,
// else "simple".
func DetermineComplexity(explicit cost.Complexity, agentID, task string) cost.Complexity {
	if explicit != "" {
		return explicit
	}
	if def, ok := agentDefaults[agentID]; ok {
		return def
	}

	lower := strings.ToLower(task)
	switch {
	case containsAny(lower, criticalKeywords):
		return cost.ComplexityCritical
	case containsAny(lower, complexKeywords):
		return cost.ComplexityComplex
	case containsAny(lower, codeKeywords):
		return cost.ComplexityCode
	case containsAny(lower, mediumKeywords):
		return cost.ComplexityMedium
	default:
		return cost.ComplexitySimple
	}
}
