package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocale(t *testing.T) {
	tests := []struct {
		language string
		want     string
	}{
		{"english", "en-US"},
		{"Spanish", "es-ES"},
		{"  HINDI ", "hi-IN"},
		{"portuguese", "pt-BR"},
		{"swahili", "sw-KE"},
		{"klingon", DefaultLocale},
		{"", DefaultLocale},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			assert.Equal(t, tt.want, Locale(tt.language))
		})
	}
	assert.Len(t, Languages(), 20)
}

func TestListener(t *testing.T) {
	var l Listener
	assert.False(t, l.Listening())

	l.Accept("dropped", true)

	require.NoError(t, l.Start("French"))
	assert.True(t, l.Listening())
	assert.Equal(t, "fr-FR", l.Locale())
	assert.ErrorIs(t, l.Start("french"), ErrAlreadyListening)

	l.Accept("bon", false)
	l.Accept("bonjour", false)
	assert.Equal(t, "bonjour", l.Transcript())

	l.Accept("bonjour", true)
	l.Accept("  ", true)
	l.Accept("ça va", true)
	l.Accept("merc", false)
	assert.Equal(t, "bonjour ça va merc", l.Transcript())

	assert.Equal(t, "bonjour ça va", l.Stop())
	assert.False(t, l.Listening())

	require.NoError(t, l.Start("german"))
	assert.Empty(t, l.Transcript(), "a new session starts empty")
	assert.Equal(t, "", l.Stop())
}
