package action

import (
	"context"
	"time"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
)

// TranslateRequest is the input of the translate action.
type TranslateRequest struct {
	Text                    string `json:"text"`
	SourceLanguage          string `json:"sourceLanguage"`
	TargetLanguage          string `json:"targetLanguage"`
	IncludeCulturalInsights bool   `json:"includeCulturalInsights,omitempty"`
	CulturalContext         string `json:"culturalContext,omitempty"`
	Voice                   string `json:"voice,omitempty"`
	// SkipHistory keeps the result out of the user's saved translations.
	SkipHistory bool `json:"skipHistory,omitempty"`
}

// TranslateResult aggregates the translation, its optional audio and the
// request that produced it.
type TranslateResult struct {
	TranslatedText   string           `json:"translatedText"`
	CulturalInsights string           `json:"culturalInsights"`
	AudioData        string           `json:"audioData"`
	Request          TranslateRequest `json:"request"`
	Error            string           `json:"error,omitempty"`
}

// Translate runs the translation flow and, when it produced speakable text,
// the speech flow on that text. Speech is never requested for empty or
// failed translations.
func (s *Service) Translate(ctx context.Context, c Caller, req TranslateRequest) (res TranslateResult) {
	outcome := "ok"
	ctx, end := s.begin(ctx, "translate", c)
	defer end(&outcome, func() {
		res = TranslateResult{TranslatedText: TranslateFailed, Request: req, Error: "unexpected failure"}
	})

	res.Request = req

	translated := s.translate(ctx, c, req, &res)
	out, ok := translated.Get()
	if !ok {
		outcome = "translate_failed"
		return res
	}
	res.TranslatedText = out.TranslatedText
	res.CulturalInsights = out.CulturalInsights

	if text, ok := speakable(out.TranslatedText).Get(); ok {
		audio := s.speak(ctx, c, "translate", text, req.Voice)
		res.AudioData = audio.OrElse("")
		if !audio.IsSome() {
			outcome = "speech_failed"
		}
	}

	if s.sink != nil && !req.SkipHistory && speakable(res.TranslatedText).IsSome() {
		s.sink.SubmitTranslation(ctx, c, domain.TranslationRecord{
			SourceText:       req.Text,
			TranslatedText:   res.TranslatedText,
			SourceLang:       req.SourceLanguage,
			TargetLang:       req.TargetLanguage,
			CulturalContext:  req.CulturalContext,
			CulturalInsights: res.CulturalInsights,
			Timestamp:        s.now(),
		}, res.AudioData != "")
	}
	return res
}

// translate runs the translation flow. On failure it fills res with the
// sentinel result and returns None.
func (s *Service) translate(ctx context.Context, c Caller, req TranslateRequest, res *TranslateResult) domain.Option[flow.TranslateOutput] {
	out, err := s.flows.Translate(ctx, flow.TranslateInput{
		Text:                    req.Text,
		SourceLanguage:          req.SourceLanguage,
		TargetLanguage:          req.TargetLanguage,
		IncludeCulturalInsights: req.IncludeCulturalInsights,
		CulturalContext:         req.CulturalContext,
	})
	if err != nil {
		s.logFailure("translate", "translate", c, err)
		res.TranslatedText = TranslateFailed
		res.CulturalInsights = ""
		res.AudioData = ""
		res.Error = describe(err)
		return domain.None[flow.TranslateOutput]()
	}
	return domain.Some(out)
}

// speak synthesizes text. A failure leaves audio absent.
func (s *Service) speak(ctx context.Context, c Caller, action, text, voice string) domain.Option[string] {
	out, err := s.flows.Speak(ctx, flow.SpeechInput{Text: text, Voice: voice})
	if err != nil {
		s.logFailure(action, "speak", c, err)
		return domain.None[string]()
	}
	return domain.Some(out.AudioDataURI)
}

func nowMillis() int64 { return domain.UnixMillis(time.Now()) }
