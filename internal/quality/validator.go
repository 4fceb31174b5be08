// Package quality implements the response quality validator (C10): a pure
// heuristic gate that inspects a completion for short/error/hedged/
// incomplete/corrupted content and recommends tier escalation.
package quality

import "strings"

// Tier is the escalation ladder worker -> boss -> ultimate -> (none).
type Tier string

const (
	TierWorker   Tier = "worker"
	TierBoss     Tier = "boss"
	TierUltimate Tier = "ultimate"
)

var minLength = map[Tier]int{
	TierWorker: 50,
	TierBoss:   200,
}

var errorMarkers = []string{
	"i cannot", "i don't know", "[error]", "failed to", "i'm unable to", "i am unable to",
}

var hedgingPhrases = []string{
	"maybe", "perhaps", "i think", "possibly", "it seems", "i'm not sure", "i am not sure",
}

// Issue is one detected quality problem.
type Issue string

const (
	IssueTooShort      Issue = "too_short"
	IssueErrorMarker   Issue = "error_marker"
	IssueLowConfidence Issue = "low_confidence"
	IssueIncomplete    Issue = "incomplete"
	IssueCorrupted     Issue = "corrupted"
)

var deductions = map[Issue]float64{
	IssueTooShort:      0.3,
	IssueErrorMarker:   0.4,
	IssueLowConfidence: 0.2,
	IssueIncomplete:    0.1,
	IssueCorrupted:     0.3,
}

// Result is the outcome of validating one completion.
type Result struct {
	Issues         []Issue
	QualityScore   float64
	IsValid        bool
	ShouldEscalate bool
	EscalateTo     Tier // empty if no further tier
}

var escalationLadder = map[Tier]Tier{
	TierWorker: TierBoss,
	TierBoss:   TierUltimate,
}

// Validate inspects content/finishReason under the given tier and returns
// issues, a clamped quality score, validity, and an escalation
// recommendation per spec §4.9.
func Validate(content, finishReason string, tier Tier) Result {
	var issues []Issue
	lower := strings.ToLower(content)

	minLen, hasMin := minLength[tier]
	if hasMin && len(content) < minLen {
		issues = append(issues, IssueTooShort)
	}

	hasErrorMarker := false
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			hasErrorMarker = true
			break
		}
	}
	if hasErrorMarker {
		issues = append(issues, IssueErrorMarker)
	}

	hedgeCount := 0
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			hedgeCount++
		}
	}
	if hedgeCount >= 3 {
		issues = append(issues, IssueLowConfidence)
	}

	if finishReason == "length" && !endsInTerminalPunctuation(content) {
		issues = append(issues, IssueIncomplete)
	}

	if strings.Count(content, "{") != strings.Count(content, "}") {
		issues = append(issues, IssueCorrupted)
	}

	score := 1.0
	for _, issue := range issues {
		score -= deductions[issue]
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	isValid := score >= 0.6
	shouldEscalate := score < 0.6 || hasErrorMarker || (tier == TierWorker && len(issues) >= 2)

	var escalateTo Tier
	if shouldEscalate {
		escalateTo = escalationLadder[tier]
	}

	return Result{
		Issues:         issues,
		QualityScore:   score,
		IsValid:        isValid,
		ShouldEscalate: shouldEscalate,
		EscalateTo:     escalateTo,
	}
}

func endsInTerminalPunctuation(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}
