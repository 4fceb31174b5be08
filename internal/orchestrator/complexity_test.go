package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fenwick-io/llmgateway/internal/cost"
)

func TestDetermineComplexityExplicitWins(t *testing.T) {
	got := DetermineComplexity(cost.ComplexityCritical, "dev", "fix a typo")
	assert.Equal(t, cost.ComplexityCritical, got)
}

func TestDetermineComplexityAgentDefaultWinsOverKeywords(t *testing.T) {
	got := DetermineComplexity("", "architect", "please explain how to fix a typo")
	assert.Equal(t, cost.ComplexityComplex, got)
}

func TestDetermineComplexityKeywordInferenceOrder(t *testing.T) {
	tests := []struct {
		name string
		task string
		want cost.Complexity
	}{
		{name: "critical beats everything", task: "production security breach, please refactor the database", want: cost.ComplexityCritical},
		{name: "complex over code", task: "review the system architecture and implement a function", want: cost.ComplexityComplex},
		{name: "code keyword", task: "please debug this python function", want: cost.ComplexityCode},
		{name: "medium keyword", task: "explain how caching works", want: cost.ComplexityMedium},
		{name: "default simple", task: "say hello", want: cost.ComplexitySimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineComplexity("", "unknown-agent", tt.task)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetermineComplexityCaseInsensitive(t *testing.T) {
	got := DetermineComplexity("", "unknown-agent", "PLEASE DEBUG THIS")
	assert.Equal(t, cost.ComplexityCode, got)
}
