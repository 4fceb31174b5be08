// Package pii implements the advisory-only PII scrubber (C17): it scans
// free-form text and emits a report, never blocking the request.
package pii

import "regexp"

// Match is one detected PII span.
type Match struct {
	Type string
	Span string
}

// Report is the scan outcome.
type Report struct {
	HasPII         bool
	Matches        []Match
	PIITypes       []string
	Recommendation string
}

var patterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone":       regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	"api_key":     regexp.MustCompile(`\b(sk|pk|api)[-_][A-Za-z0-9]{16,}\b`),
}

// Detect scans text against a fixed pattern table and reports matches.
// Non-blocking by contract: the orchestrator logs the report and proceeds
// regardless of outcome.
func Detect(text string) Report {
	var matches []Match
	seen := make(map[string]bool)

	for piiType, re := range patterns {
		for _, span := range re.FindAllString(text, -1) {
			matches = append(matches, Match{Type: piiType, Span: span})
			seen[piiType] = true
		}
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}

	recommendation := "no action required"
	if len(matches) > 0 {
		recommendation = "consider redacting before logging or persisting this input"
	}

	return Report{
		HasPII:         len(matches) > 0,
		Matches:        matches,
		PIITypes:       types,
		Recommendation: recommendation,
	}
}
