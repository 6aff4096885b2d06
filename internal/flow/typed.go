package flow

import (
	"context"

	"github.com/tjfontaine/polyglot-lingua/internal/contract"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

type TranslateInput struct {
	Text                    string `json:"text"`
	SourceLanguage          string `json:"sourceLanguage"`
	TargetLanguage          string `json:"targetLanguage"`
	IncludeCulturalInsights bool   `json:"includeCulturalInsights,omitempty"`
	CulturalContext         string `json:"culturalContext,omitempty"`
}

type TranslateOutput struct {
	TranslatedText   string `json:"translatedText"`
	CulturalInsights string `json:"culturalInsights,omitempty"`
}

type SpeechInput struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type SpeechOutput struct {
	AudioDataURI string `json:"audioDataUri"`
}

type FauxPasInput struct {
	Text          string `json:"text"`
	TargetCulture string `json:"targetCulture,omitempty"`
	Language      string `json:"language,omitempty"`
}

type FauxPasOutput struct {
	IsFauxPas   bool   `json:"isFauxPas"`
	Explanation string `json:"explanation,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

type ChatInput struct {
	Message  string        `json:"message"`
	Language string        `json:"language,omitempty"`
	History  []domain.Turn `json:"history,omitempty"`
}

type ChatOutput struct {
	Response string `json:"response"`
}

type TutorInput struct {
	Question  string        `json:"question"`
	Tradition string        `json:"tradition,omitempty"`
	History   []domain.Turn `json:"history,omitempty"`
}

type TutorOutput struct {
	Answer     string   `json:"answer"`
	References []string `json:"references,omitempty"`
}

type IdiomInput struct {
	Phrase   string `json:"phrase"`
	Language string `json:"language"`
}

type IdiomOutput struct {
	Meaning         string `json:"meaning"`
	CulturalContext string `json:"culturalContext"`
	Example         string `json:"example,omitempty"`
}

func (e *Executor) Translate(ctx context.Context, in TranslateInput) (TranslateOutput, error) {
	return run[TranslateInput, TranslateOutput](ctx, e, TranslateText, in)
}

func (e *Executor) Speak(ctx context.Context, in SpeechInput) (SpeechOutput, error) {
	return run[SpeechInput, SpeechOutput](ctx, e, TextToSpeech, in)
}

func (e *Executor) DetectFauxPas(ctx context.Context, in FauxPasInput) (FauxPasOutput, error) {
	return run[FauxPasInput, FauxPasOutput](ctx, e, DetectFauxPas, in)
}

func (e *Executor) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	return run[ChatInput, ChatOutput](ctx, e, Chat, in)
}

func (e *Executor) Tutor(ctx context.Context, in TutorInput) (TutorOutput, error) {
	return run[TutorInput, TutorOutput](ctx, e, ScriptureTutor, in)
}

func (e *Executor) ExplainIdiom(ctx context.Context, in IdiomInput) (IdiomOutput, error) {
	return run[IdiomInput, IdiomOutput](ctx, e, ExplainIdiom, in)
}

// run converts typed input into the generic form, executes the flow and
// binds the validated output.
func run[In, Out any](ctx context.Context, e *Executor, name string, in In) (Out, error) {
	var out Out
	m, err := contract.ToMap(in)
	if err != nil {
		return out, &domain.ContractError{
			Flow:       name,
			Violations: []domain.FieldViolation{{Reason: err.Error()}},
		}
	}
	res, err := e.Run(ctx, name, m)
	if err != nil {
		return out, err
	}
	if err := contract.Bind(res, &out); err != nil {
		return out, &domain.ModelContractViolation{Flow: name, Cause: err}
	}
	return out, nil
}
