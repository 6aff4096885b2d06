package flow

import (
	"unicode/utf8"

	"github.com/tjfontaine/polyglot-lingua/internal/contract"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

// Flow names. Each is also the key of its prompt template.
const (
	TranslateText  = "translateText"
	TextToSpeech   = "textToSpeech"
	DetectFauxPas  = "detectFauxPas"
	Chat           = "chat"
	ScriptureTutor = "scriptureTutor"
	ExplainIdiom   = "explainIdiom"
)

// FauxPasMinRunes is the shortest text the faux-pas detector sends to the
// model. Shorter text is answered locally with isFauxPas=false.
const FauxPasMinRunes = 10

// Gate inspects validated input before prompt composition. When it returns
// false the flow answers with the returned output and the model is not
// called.
type Gate func(input map[string]any) (map[string]any, bool)

// Definition binds a contract to how the flow is executed.
type Definition struct {
	Contract contract.Contract
	// Template names the prompt template; empty means Contract.Name.
	Template string
	Modality ports.Modality
	// Conversational flows take a history field that is sent as prior turns.
	Conversational bool
	Gate           Gate
}

func (d Definition) templateName() string {
	if d.Template != "" {
		return d.Template
	}
	return d.Contract.Name
}

// historyField is the closed turn shape accepted by conversational flows.
var historyField = contract.Array("history", "prior conversation turns, oldest first",
	contract.Nested("", "one turn",
		contract.Enum("role", "who produced the turn", "system", "user", "model"),
		contract.Array("content", "ordered text segments",
			contract.Nested("", "one segment",
				contract.String("text", "segment text"),
			),
		),
	),
).Optional()

// Definitions returns the built-in flows.
func Definitions() []Definition {
	return []Definition{
		{
			Contract: contract.Contract{
				Name: TranslateText,
				Input: contract.Object(
					contract.String("text", "the text to translate"),
					contract.String("sourceLanguage", "language of the text"),
					contract.String("targetLanguage", "language to translate into"),
					contract.Boolean("includeCulturalInsights", "whether to explain cultural nuances").Optional(),
					contract.String("culturalContext", "situation the text will be used in").Optional(),
				),
				Output: contract.Object(
					contract.String("translatedText", "the translated text"),
					contract.String("culturalInsights", "cultural nuances a learner should know").Optional(),
				),
			},
			Modality: ports.ModalityText,
		},
		{
			Contract: contract.Contract{
				Name: TextToSpeech,
				Input: contract.Object(
					contract.String("text", "the text to speak").NonEmpty(1),
					contract.String("voice", "prebuilt voice name").Optional(),
				),
				Output: contract.Object(
					contract.String("audioDataUri", "base64 data URI of the synthesized audio").NonEmpty(1),
				),
			},
			Modality: ports.ModalityAudio,
		},
		{
			Contract: contract.Contract{
				Name: DetectFauxPas,
				Input: contract.Object(
					contract.String("text", "the phrase to check"),
					contract.String("targetCulture", "culture of the listener").Optional(),
					contract.String("language", "language of the speaker").Optional(),
				),
				Output: contract.Object(
					contract.Boolean("isFauxPas", "whether the phrase is a cultural faux pas"),
					contract.String("explanation", "why the phrase is inappropriate").Optional(),
					contract.String("suggestion", "a more appropriate alternative").Optional(),
					contract.Enum("severity", "how serious the faux pas is", "none", "low", "medium", "high").Optional(),
				),
			},
			Modality: ports.ModalityText,
			Gate:     minTextGate(FauxPasMinRunes),
		},
		{
			Contract: contract.Contract{
				Name: Chat,
				Input: contract.Object(
					contract.String("message", "the learner's message"),
					contract.String("language", "language being practised").Optional(),
					historyField,
				),
				Output: contract.Object(
					contract.String("response", "the partner's reply"),
				),
			},
			Modality:       ports.ModalityText,
			Conversational: true,
		},
		{
			Contract: contract.Contract{
				Name: ScriptureTutor,
				Input: contract.Object(
					contract.String("question", "the learner's question"),
					contract.String("tradition", "religious or literary tradition of interest").Optional(),
					historyField,
				),
				Output: contract.Object(
					contract.String("answer", "the tutor's answer"),
					contract.Array("references", "passages cited in the answer", contract.String("", "a reference")).Optional(),
				),
			},
			Modality:       ports.ModalityText,
			Conversational: true,
		},
		{
			Contract: contract.Contract{
				Name: ExplainIdiom,
				Input: contract.Object(
					contract.String("phrase", "the idiom or phrase"),
					contract.String("language", "language the phrase belongs to"),
				),
				Output: contract.Object(
					contract.String("meaning", "what the phrase means"),
					contract.String("culturalContext", "when and by whom it is used"),
					contract.String("example", "an example sentence").Optional(),
				),
			},
			Modality: ports.ModalityText,
		},
	}
}

// minTextGate skips the model when the text field is shorter than n runes.
func minTextGate(n int) Gate {
	return func(input map[string]any) (map[string]any, bool) {
		text, _ := input["text"].(string)
		if utf8.RuneCountInString(text) < n {
			return map[string]any{"isFauxPas": false}, false
		}
		return nil, true
	}
}
