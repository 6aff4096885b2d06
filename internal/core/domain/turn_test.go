package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_AppendDoesNotAlias(t *testing.T) {
	base := make(History, 0, 4)
	base = base.Append(UserTurn("hola"))

	a := base.Append(ModelTurn("hello"))
	b := base.Append(ModelTurn("hi"))

	assert.Len(t, base, 1)
	assert.Equal(t, "hello", a[1].Text())
	assert.Equal(t, "hi", b[1].Text())
}

func TestHistory_WithoutSystem(t *testing.T) {
	h := History{SystemTurn("be brief"), UserTurn("q"), ModelTurn("a")}
	got := h.WithoutSystem()
	assert.Equal(t, History{UserTurn("q"), ModelTurn("a")}, got)
	assert.Len(t, h, 3)
}

func TestTurn_Text(t *testing.T) {
	turn := Turn{Role: RoleModel, Content: []Segment{{Text: "Bon"}, {Text: "jour"}}}
	assert.Equal(t, "Bonjour", turn.Text())
	assert.True(t, turn.Role.Valid())
	assert.False(t, Role("assistant").Valid())
}

func TestOption(t *testing.T) {
	v, ok := Some("fr").Get()
	assert.True(t, ok)
	assert.Equal(t, "fr", v)

	none := None[string]()
	assert.False(t, none.IsSome())
	assert.Equal(t, "es", none.OrElse("es"))
	assert.Equal(t, "fr", Some("fr").OrElse("es"))
}
