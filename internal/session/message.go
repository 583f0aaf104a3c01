// Package session holds per-client conversational state: a bounded message
// history behind a pluggable Store, a per-client mutex table, and idle
// eviction. All coordination is process-local; running multiple replicas
// requires externalizing the history store (the Redis driver) and is
// otherwise out of scope.
package session

import (
	"log/slog"
	"strings"
)

// Role classifies who produced a conversation message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	// RoleNudge is an automated follow-up prompt injected by the client UI
	// when the user has been silent.
	RoleNudge Role = "nudge"
)

// Message is one immutable conversation turn. Persona is set only on
// bot-role messages and names the provider that produced the text.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Persona string `json:"persona,omitempty"`
}

// Valid reports whether the message carries a non-empty content string and a
// known role.
func (m Message) Valid() bool {
	if strings.TrimSpace(m.Content) == "" {
		return false
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleBot, RoleNudge:
		return true
	default:
		return false
	}
}

// FilterValid drops invalid messages with a logged warning. Invalid messages
// never count toward the context size.
func FilterValid(messages []Message) []Message {
	valid := messages[:0:0]
	for _, m := range messages {
		if !m.Valid() {
			slog.Warn("dropping invalid message", "role", m.Role, "content_len", len(m.Content))
			continue
		}
		valid = append(valid, m)
	}
	return valid
}

// Trim bounds history to at most max messages, dropping the oldest first and
// preserving the relative order of the survivors.
func Trim(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
