// Package prompt renders validated flow input into the instruction payload
// sent to the model.
package prompt

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

//go:embed templates.yaml
var builtinTemplates []byte

// Template is a fixed instruction pair with named {{placeholders}}.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Library holds the templates keyed by flow name. It is read-only after Load.
type Library struct {
	templates map[string]Template
}

// LoadLibrary parses the built-in templates.
func LoadLibrary() (*Library, error) {
	return ParseLibrary(builtinTemplates)
}

// ParseLibrary parses templates from YAML keyed by flow name.
func ParseLibrary(data []byte) (*Library, error) {
	templates := make(map[string]Template)
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for name, t := range templates {
		if strings.TrimSpace(t.User) == "" {
			return nil, fmt.Errorf("template %s: user prompt is empty", name)
		}
	}
	return &Library{templates: templates}, nil
}

// Get returns the template for a flow.
func (l *Library) Get(name string) (Template, bool) {
	t, ok := l.templates[name]
	return t, ok
}

// Names lists the template names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes every {{name}} in text with the stringified input
// value. Placeholders without a value render as the empty string.
func Render(text string, input map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := input[name]
		if !ok || v == nil {
			return ""
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

// Payload is the concrete instruction set for one model call.
type Payload struct {
	System string
	Turns  []domain.Turn
}

// Messages returns the payload as one ordered sequence, with the system
// turn first when present.
func (p Payload) Messages() []domain.Turn {
	out := make([]domain.Turn, 0, len(p.Turns)+1)
	if p.System != "" {
		out = append(out, domain.SystemTurn(p.System))
	}
	return append(out, p.Turns...)
}

// Compose renders a single-turn payload.
func Compose(t Template, input map[string]any) Payload {
	return Payload{
		System: strings.TrimSpace(Render(t.System, input)),
		Turns:  []domain.Turn{domain.UserTurn(strings.TrimSpace(Render(t.User, input)))},
	}
}

// ComposeConversation renders a multi-turn payload: the fixed system
// instruction, then prior turns in chronological order, then the new user
// turn. System turns found in history are dropped.
func ComposeConversation(t Template, input map[string]any, history []domain.Turn) Payload {
	p := Compose(t, input)
	prior := domain.History(history).WithoutSystem()
	turns := make([]domain.Turn, 0, len(prior)+1)
	turns = append(turns, prior...)
	p.Turns = append(turns, p.Turns...)
	return p
}
