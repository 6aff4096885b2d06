package domain

import "strings"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleModel:
		return true
	}
	return false
}

// Segment is one text part of a turn.
type Segment struct {
	Text string `json:"text"`
}

// Turn is one ordered entry of a conversation. System, user and model turns
// share the same shape and differ only by Role.
type Turn struct {
	Role    Role      `json:"role"`
	Content []Segment `json:"content"`
}

func newTurn(role Role, text string) Turn {
	return Turn{Role: role, Content: []Segment{{Text: text}}}
}

// SystemTurn builds a system instruction turn.
func SystemTurn(text string) Turn { return newTurn(RoleSystem, text) }

// UserTurn builds a user turn.
func UserTurn(text string) Turn { return newTurn(RoleUser, text) }

// ModelTurn builds a model turn.
func ModelTurn(text string) Turn { return newTurn(RoleModel, text) }

// Text concatenates the turn's segments.
func (t Turn) Text() string {
	if len(t.Content) == 1 {
		return t.Content[0].Text
	}
	var b strings.Builder
	for _, s := range t.Content {
		b.WriteString(s.Text)
	}
	return b.String()
}

// History is an append-only conversation owned by the caller.
type History []Turn

// Append returns a new history with turns added. The receiver is never
// modified, so callers holding the old slice keep their view.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// WithoutSystem drops system turns, which are never part of stored history.
func (h History) WithoutSystem() History {
	out := make(History, 0, len(h))
	for _, t := range h {
		if t.Role != RoleSystem {
			out = append(out, t)
		}
	}
	return out
}
