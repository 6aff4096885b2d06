package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/model/modeltest"
	"github.com/tjfontaine/polyglot-lingua/internal/prompt"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

func newExecutor(t *testing.T, model ports.Model, opts ...Option) *Executor {
	t.Helper()
	lib, err := prompt.LoadLibrary()
	require.NoError(t, err)
	e, err := NewExecutor(model, lib, opts...)
	require.NoError(t, err)
	return e
}

func TestNewExecutor_RequiresTemplates(t *testing.T) {
	lib, err := prompt.ParseLibrary([]byte("chat:\n  user: \"{{message}}\"\n"))
	require.NoError(t, err)

	_, err = NewExecutor(modeltest.New(), lib)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no template")
}

func TestExecutor_Names(t *testing.T) {
	e := newExecutor(t, modeltest.New())
	assert.Equal(t, []string{Chat, DetectFauxPas, ExplainIdiom, ScriptureTutor, TextToSpeech, TranslateText}, e.Names())
}

func TestDetectFauxPas_Gate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantCalls int
	}{
		{name: "short greeting", text: "hi", wantCalls: 0},
		{name: "nine characters", text: "123456789", wantCalls: 0},
		{name: "ten characters", text: "1234567890", wantCalls: 1},
		{name: "nine runes multibyte", text: "こんにちは、元気で", wantCalls: 0},
		{name: "ten runes multibyte", text: "こんにちは、元気です", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := modeltest.New().On(DetectFauxPas, modeltest.Text(`{"isFauxPas": true, "severity": "low"}`))
			e := newExecutor(t, model)

			out, err := e.Run(context.Background(), DetectFauxPas, map[string]any{"text": tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, model.Calls(DetectFauxPas))

			if tt.wantCalls == 0 {
				assert.Equal(t, map[string]any{"isFauxPas": false}, out)
			} else {
				assert.Equal(t, true, out["isFauxPas"])
			}
		})
	}
}

func TestExecutor_Invoke_GatedRecord(t *testing.T) {
	model := modeltest.New()
	e := newExecutor(t, model)

	inv := e.Invoke(context.Background(), DetectFauxPas, map[string]any{"text": "hi"})
	require.NoError(t, inv.Err)
	assert.True(t, inv.Gated)
	assert.Empty(t, inv.Prompt.Turns)
	assert.Zero(t, model.TotalCalls())
}

func TestExecutor_Run_InvalidInputNeverCallsModel(t *testing.T) {
	tests := []struct {
		name      string
		flow      string
		input     map[string]any
		wantField string
	}{
		{
			name:      "translate missing target",
			flow:      TranslateText,
			input:     map[string]any{"text": "Hello", "sourceLanguage": "english"},
			wantField: "targetLanguage",
		},
		{
			name:      "translate wrong type",
			flow:      TranslateText,
			input:     map[string]any{"text": 42.0, "sourceLanguage": "english", "targetLanguage": "spanish"},
			wantField: "text",
		},
		{
			name:      "speech empty text",
			flow:      TextToSpeech,
			input:     map[string]any{"text": ""},
			wantField: "text",
		},
		{
			name:      "faux pas null text",
			flow:      DetectFauxPas,
			input:     map[string]any{"text": nil},
			wantField: "text",
		},
		{
			name: "chat history bad role",
			flow: Chat,
			input: map[string]any{
				"message": "hola",
				"history": []any{map[string]any{"role": "assistant", "content": []any{map[string]any{"text": "x"}}}},
			},
			wantField: "history[0].role",
		},
		{
			name:      "idiom missing everything",
			flow:      ExplainIdiom,
			input:     map[string]any{},
			wantField: "phrase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := modeltest.New()
			e := newExecutor(t, model)

			out, err := e.Run(context.Background(), tt.flow, tt.input)
			assert.Nil(t, out)

			var ce *domain.ContractError
			require.True(t, errors.As(err, &ce), "want ContractError, got %v", err)
			assert.Equal(t, tt.wantField, ce.Field())
			assert.Equal(t, tt.flow, ce.Flow)
			assert.Zero(t, model.TotalCalls())
		})
	}
}

func TestExecutor_Run_UnknownFlow(t *testing.T) {
	e := newExecutor(t, modeltest.New())
	_, err := e.Run(context.Background(), "haiku", map[string]any{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecutor_Run_ModelContractViolation(t *testing.T) {
	tests := []struct {
		name  string
		flow  string
		input map[string]any
		reply string
	}{
		{
			name:  "not json",
			flow:  TranslateText,
			input: map[string]any{"text": "Hello", "sourceLanguage": "english", "targetLanguage": "spanish"},
			reply: "Hola!",
		},
		{
			name:  "wrong type",
			flow:  TranslateText,
			input: map[string]any{"text": "Hello", "sourceLanguage": "english", "targetLanguage": "spanish"},
			reply: `{"translatedText": 7}`,
		},
		{
			name:  "enum out of set",
			flow:  DetectFauxPas,
			input: map[string]any{"text": "Give me that now."},
			reply: `{"isFauxPas": true, "severity": "extreme"}`,
		},
		{
			name:  "missing required",
			flow:  Chat,
			input: map[string]any{"message": "hola"},
			reply: `{"reply": "hola"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := modeltest.New().On(tt.flow, modeltest.Text(tt.reply))
			e := newExecutor(t, model)

			out, err := e.Run(context.Background(), tt.flow, tt.input)
			assert.Nil(t, out)

			var mv *domain.ModelContractViolation
			require.True(t, errors.As(err, &mv), "want ModelContractViolation, got %v", err)
			assert.Equal(t, tt.flow, mv.Flow)
			// never retried
			assert.Equal(t, 1, model.Calls(tt.flow))
		})
	}
}

func TestExecutor_Run_StripsUndeclaredOutput(t *testing.T) {
	model := modeltest.New().On(TranslateText,
		modeltest.Text("```json\n{\"translatedText\": \"Hola\", \"confidence\": 0.9}\n```"))
	e := newExecutor(t, model)

	out, err := e.Run(context.Background(), TranslateText, map[string]any{
		"text": "Hello", "sourceLanguage": "english", "targetLanguage": "spanish",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"translatedText": "Hola"}, out)
}

func TestExecutor_Run_TransportError(t *testing.T) {
	model := modeltest.New().On(Chat, modeltest.Fail(errors.New("connection reset by peer")))
	e := newExecutor(t, model)

	_, err := e.Run(context.Background(), Chat, map[string]any{"message": "hola"})
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "connection reset")
	assert.Equal(t, domain.ErrorKindTransport, domain.KindOf(err))
}

func TestExecutor_Run_KeepsTypedModelErrors(t *testing.T) {
	upstream := &domain.TransportError{Op: "gemini.generate", StatusCode: 503, Cause: errors.New("unavailable")}
	model := modeltest.New().On(Chat, modeltest.Fail(upstream))
	e := newExecutor(t, model)

	_, err := e.Run(context.Background(), Chat, map[string]any{"message": "hola"})
	assert.Same(t, upstream, err)
}

func TestExecutor_Speak(t *testing.T) {
	model := modeltest.New().On(TextToSpeech, modeltest.Reply{
		Audio: &ports.Audio{MIMEType: "audio/wav", Data: []byte("RIFF")},
	})
	e := newExecutor(t, model)

	out, err := e.Speak(context.Background(), SpeechInput{Text: "Hola", Voice: "Kore"})
	require.NoError(t, err)
	assert.Equal(t, "data:audio/wav;base64,UklGRg==", out.AudioDataURI)

	req := model.Last(TextToSpeech)
	require.NotNil(t, req)
	assert.Equal(t, ports.ModalityAudio, req.Modality)
	assert.Equal(t, "Kore", req.Voice)
	assert.Nil(t, req.Schema)
	assert.Contains(t, req.Turns[0].Text(), "Hola")
}

func TestExecutor_Speak_NoAudio(t *testing.T) {
	model := modeltest.New().On(TextToSpeech, modeltest.Text(""))
	e := newExecutor(t, model)

	_, err := e.Speak(context.Background(), SpeechInput{Text: "Hola"})
	var mv *domain.ModelContractViolation
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, "audioDataUri", mv.Violations[0].Path)
}

func TestExecutor_Translate_Prompt(t *testing.T) {
	model := modeltest.New().On(TranslateText, modeltest.Text(`{"translatedText":"Hola","culturalInsights":""}`))
	e := newExecutor(t, model)

	out, err := e.Translate(context.Background(), TranslateInput{
		Text: "Hello", SourceLanguage: "english", TargetLanguage: "spanish",
	})
	require.NoError(t, err)
	assert.Equal(t, TranslateOutput{TranslatedText: "Hola"}, out)

	req := model.Last(TranslateText)
	require.NotNil(t, req)
	require.NotNil(t, req.Schema)
	assert.Equal(t, []string{"translatedText"}, req.Schema.Required())
	user := req.Turns[len(req.Turns)-1].Text()
	assert.Contains(t, user, "from english to spanish")
	assert.NotContains(t, user, "{{")
}

func TestExecutor_Chat_History(t *testing.T) {
	model := modeltest.New().On(Chat, modeltest.Text(`{"response":"¡Muy bien!"}`))
	e := newExecutor(t, model)

	history := []domain.Turn{
		domain.SystemTurn("ignored"),
		domain.UserTurn("Hola"),
		domain.ModelTurn("¡Hola! ¿Qué tal?"),
	}
	out, err := e.Chat(context.Background(), ChatInput{Message: "Bien, gracias", Language: "spanish", History: history})
	require.NoError(t, err)
	assert.Equal(t, "¡Muy bien!", out.Response)

	req := model.Last(Chat)
	require.NotNil(t, req)
	want := []domain.Turn{
		domain.UserTurn("Hola"),
		domain.ModelTurn("¡Hola! ¿Qué tal?"),
		domain.UserTurn("Bien, gracias"),
	}
	if diff := cmp.Diff(want, req.Turns); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, strings.Contains(req.System, "spanish"))
}

func TestExecutor_Tutor_References(t *testing.T) {
	model := modeltest.New().On(ScriptureTutor,
		modeltest.Text(`{"answer":"It teaches detachment.","references":["Bhagavad Gita 2.47"]}`))
	e := newExecutor(t, model)

	out, err := e.Tutor(context.Background(), TutorInput{Question: "What does karma yoga mean?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bhagavad Gita 2.47"}, out.References)
}

func TestExecutor_ExplainIdiom(t *testing.T) {
	model := modeltest.New().On(ExplainIdiom,
		modeltest.Text(`{"meaning":"to die","culturalContext":"informal English","example":"He kicked the bucket."}`))
	e := newExecutor(t, model)

	out, err := e.ExplainIdiom(context.Background(), IdiomInput{Phrase: "kick the bucket", Language: "english"})
	require.NoError(t, err)
	assert.Equal(t, "to die", out.Meaning)
	assert.Equal(t, "He kicked the bucket.", out.Example)
}

func TestExecutor_Metrics(t *testing.T) {
	m := telemetry.NewMetrics()
	e := newExecutor(t, modeltest.New(), WithMetrics(m))

	_, _ = e.Run(context.Background(), DetectFauxPas, map[string]any{"text": "hi"})
	_, _ = e.Run(context.Background(), DetectFauxPas, map[string]any{})

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	outcomes := map[string]bool{}
	for _, f := range families {
		if f.GetName() != "lingua_flow_invocations_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, outcomes["gated"])
	assert.True(t, outcomes[string(domain.ErrorKindContract)])
}
