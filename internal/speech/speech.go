// Package speech maps language names to recognizer locales and collects
// transcript segments from a speech recognizer.
package speech

import (
	"errors"
	"strings"
	"sync"
)

// DefaultLocale is used for languages without a mapping.
const DefaultLocale = "en-US"

var locales = map[string]string{
	"english":    "en-US",
	"spanish":    "es-ES",
	"french":     "fr-FR",
	"german":     "de-DE",
	"italian":    "it-IT",
	"portuguese": "pt-BR",
	"hindi":      "hi-IN",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"chinese":    "zh-CN",
	"arabic":     "ar-SA",
	"russian":    "ru-RU",
	"bengali":    "bn-IN",
	"tamil":      "ta-IN",
	"telugu":     "te-IN",
	"marathi":    "mr-IN",
	"urdu":       "ur-PK",
	"turkish":    "tr-TR",
	"dutch":      "nl-NL",
	"swahili":    "sw-KE",
}

// Locale returns the recognizer locale for a language name such as
// "Spanish". Unknown names map to DefaultLocale.
func Locale(language string) string {
	if l, ok := locales[strings.ToLower(strings.TrimSpace(language))]; ok {
		return l
	}
	return DefaultLocale
}

// Languages returns every mapped language name.
func Languages() []string {
	out := make([]string, 0, len(locales))
	for name := range locales {
		out = append(out, name)
	}
	return out
}

var ErrAlreadyListening = errors.New("already listening")

// Listener accumulates final transcript segments between Start and Stop.
// Interim segments replace each other; only the latest is kept.
type Listener struct {
	mu        sync.Mutex
	listening bool
	locale    string
	final     []string
	interim   string
}

// Start begins a session for language. Starting twice is an error.
func (l *Listener) Start(language string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listening {
		return ErrAlreadyListening
	}
	l.listening = true
	l.locale = Locale(language)
	l.final = l.final[:0]
	l.interim = ""
	return nil
}

// Accept records a recognizer result. Results outside a session are
// dropped.
func (l *Listener) Accept(segment string, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening {
		return
	}
	if !final {
		l.interim = segment
		return
	}
	if s := strings.TrimSpace(segment); s != "" {
		l.final = append(l.final, s)
	}
	l.interim = ""
}

// Transcript returns the final text so far followed by the pending interim
// segment.
func (l *Listener) Transcript() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text(true)
}

func (l *Listener) text(withInterim bool) string {
	parts := l.final
	if withInterim && strings.TrimSpace(l.interim) != "" {
		parts = append(parts[:len(parts):len(parts)], strings.TrimSpace(l.interim))
	}
	return strings.Join(parts, " ")
}

// Stop ends the session and returns the final transcript. Interim text
// that never became final is discarded.
func (l *Listener) Stop() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = false
	l.interim = ""
	return l.text(false)
}

func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Locale is the locale of the current or last session.
func (l *Listener) Locale() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locale
}
