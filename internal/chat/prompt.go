package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/lloydchang/personas/internal/session"
)

// BuildPrompt assembles the upstream prompt from the system prompt and the
// merged conversation history, one role-labelled line per message, ending
// with an open "Assistant:" line for the model to complete. The result is
// capped at maxChars, keeping the most recent tail so the model always sees
// the latest turns.
func BuildPrompt(systemPrompt string, history []session.Message, maxChars int) string {
	var b strings.Builder

	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}

	for _, msg := range history {
		b.WriteString(roleLabel(msg))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")

	prompt := b.String()
	if maxChars > 0 && len(prompt) > maxChars {
		cut := len(prompt) - maxChars
		// Never slice mid-rune: advance to the next rune boundary so the
		// truncated prompt stays valid UTF-8.
		for cut < len(prompt) && !utf8.RuneStart(prompt[cut]) {
			cut++
		}
		prompt = prompt[cut:]
	}
	return prompt
}

func roleLabel(msg session.Message) string {
	switch msg.Role {
	case session.RoleSystem:
		return "System"
	case session.RoleBot:
		if msg.Persona != "" {
			return "Assistant (" + msg.Persona + ")"
		}
		return "Assistant"
	default:
		// User and nudge messages both speak with the user's voice.
		return "User"
	}
}
