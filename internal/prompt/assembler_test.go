package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fenwick-io/llmgateway/internal/agent"
)

func testRecord() *agent.Record {
	return &agent.Record{
		ID:    "researcher",
		Name:  "Ada",
		Title: "Research Analyst",
		Persona: agent.Persona{
			Role:               "research analyst",
			Identity:           "meticulous and skeptical",
			CommunicationStyle: "concise, cites sources",
			Principles:         "never speculate beyond the evidence",
		},
		Menu: []agent.MenuItem{
			{Cmd: "*summarize", Description: "summarize the current document"},
			{Cmd: "*cite"},
		},
	}
}

func TestAssembleIncludesNameAndTitle(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{})
	assert.Contains(t, out, "You are Ada, a Research Analyst.")
}

func TestAssembleIncludesAllPopulatedPersonaFields(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{})
	assert.Contains(t, out, "Role: research analyst")
	assert.Contains(t, out, "Identity: meticulous and skeptical")
	assert.Contains(t, out, "Communication Style: concise, cites sources")
	assert.Contains(t, out, "Principles: never speculate beyond the evidence")
}

func TestAssembleOmitsEmptyPersonaFields(t *testing.T) {
	rec := testRecord()
	rec.Persona.Principles = ""
	out := Assemble(rec, UserConfig{})
	assert.NotContains(t, out, "Principles:")
}

func TestAssembleNumbersMenuItemsWithAndWithoutDescription(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{})
	assert.Contains(t, out, "1. *summarize — summarize the current document")
	assert.Contains(t, out, "2. *cite\n")
}

func TestAssembleOmitsMenuSectionWhenEmpty(t *testing.T) {
	rec := testRecord()
	rec.Menu = nil
	out := Assemble(rec, UserConfig{})
	assert.NotContains(t, out, "MENU:")
}

func TestAssembleDefaultsLanguageAndUserName(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{})
	assert.Contains(t, out, "Always respond in English.")
	assert.Contains(t, out, "Address the user appropriately")
}

func TestAssembleUsesProvidedLanguageAndUserName(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{CommunicationLanguage: "Spanish", UserName: "Maria"})
	assert.Contains(t, out, "Always respond in Spanish.")
	assert.Contains(t, out, "Address Maria appropriately")
}

func TestAssembleEndsWithStayInCharacterReminder(t *testing.T) {
	out := Assemble(testRecord(), UserConfig{})
	assert.Contains(t, out, "Stay in character as Ada for the remainder of this conversation.")
}

func TestEstimateTokensAppliesLenOverFourHeuristic(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("12345678"))
}
