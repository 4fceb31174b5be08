// Package prompt implements the deterministic prompt assembler (C14): it
// builds a complete system prompt from an Agent Record plus per-user scope
// config.
package prompt

import (
	"fmt"
	"strings"

	"github.com/fenwick-io/llmgateway/internal/agent"
)

// UserConfig is the per-user scope input to assembly, per spec §4.13.
type UserConfig struct {
	CommunicationLanguage string
	UserName              string
}

// EstimateTokens applies the advisory len/4 heuristic spec §4.13 specifies.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Assemble builds the five-section system prompt described in spec §4.13.
func Assemble(rec *agent.Record, cfg UserConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.\n\n", rec.Name, rec.Title)

	b.WriteString("PERSONA:\n")
	if rec.Persona.Role != "" {
		fmt.Fprintf(&b, "- Role: %s\n", rec.Persona.Role)
	}
	if rec.Persona.Identity != "" {
		fmt.Fprintf(&b, "- Identity: %s\n", rec.Persona.Identity)
	}
	if rec.Persona.CommunicationStyle != "" {
		fmt.Fprintf(&b, "- Communication Style: %s\n", rec.Persona.CommunicationStyle)
	}
	if rec.Persona.Principles != "" {
		fmt.Fprintf(&b, "- Principles: %s\n", rec.Persona.Principles)
	}
	b.WriteString("\n")

	if len(rec.Menu) > 0 {
		b.WriteString("MENU:\n")
		for i, item := range rec.Menu {
			if item.Description != "" {
				fmt.Fprintf(&b, "%d. %s — %s\n", i+1, item.Cmd, item.Description)
			} else {
				fmt.Fprintf(&b, "%d. %s\n", i+1, item.Cmd)
			}
		}
		b.WriteString("\n")
	}

	language := cfg.CommunicationLanguage
	if language == "" {
		language = "English"
	}
	userName := cfg.UserName
	if userName == "" {
		userName = "the user"
	}
	fmt.Fprintf(&b, "RULES:\n- Always respond in %s.\n- Address %s appropriately and stay within your persona.\n- Use the menu commands above when the user invokes them directly.\n\n", language, userName)

	fmt.Fprintf(&b, "Stay in character as %s for the remainder of this conversation.", rec.Name)

	return b.String()
}
