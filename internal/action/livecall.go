package action

import (
	"context"
	"strings"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
	"github.com/tjfontaine/polyglot-lingua/internal/speech"
)

// DefaultPivotLanguage bridges the caller and the conversational model.
const DefaultPivotLanguage = "english"

// Live-call stages in execution order.
const (
	StageTranslate     = "translate"
	StageRespond       = "respond"
	StageTranslateBack = "translate-back"
	StageSpeak         = "speak"
)

// LiveCallRequest is one recognized utterance of a live call.
type LiveCallRequest struct {
	Utterance      string `json:"utterance"`
	CallerLanguage string `json:"callerLanguage"`
	PivotLanguage  string `json:"pivotLanguage,omitempty"`
	Voice          string `json:"voice,omitempty"`
	// History is the pivot-language conversation so far.
	History domain.History `json:"history,omitempty"`
}

// LiveCallResult holds whatever stages completed. FailedStage names the
// stage that stopped the pipeline, if any.
type LiveCallResult struct {
	// RecognitionLocale is the recognizer locale for the caller's next
	// utterance.
	RecognitionLocale string `json:"recognitionLocale"`

	Utterance        string         `json:"utterance"`
	PivotText        string         `json:"pivotText"`
	Reply            string         `json:"reply"`
	TranslatedReply  string         `json:"translatedReply"`
	CulturalInsights string         `json:"culturalInsights"`
	AudioData        string         `json:"audioData"`
	History          domain.History `json:"history"`
	CompletedStages  []string       `json:"completedStages"`
	FailedStage      string         `json:"failedStage,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// LiveCall runs the four stage pipeline for one utterance: translate into
// the pivot language, get a conversational reply, translate the reply back
// with cultural insight, then synthesize it. A failed stage stops the
// pipeline; completed stages stay in the result.
func (s *Service) LiveCall(ctx context.Context, c Caller, req LiveCallRequest) (res LiveCallResult) {
	outcome := "ok"
	pivot := req.PivotLanguage
	if strings.TrimSpace(pivot) == "" {
		pivot = DefaultPivotLanguage
	}
	prior := req.History.WithoutSystem()

	ctx, end := s.begin(ctx, "live_call", c)
	defer end(&outcome, func() {
		res.Error = "unexpected failure"
		if res.FailedStage == "" {
			res.FailedStage = nextStage(res.CompletedStages)
		}
	})

	res.RecognitionLocale = speech.Locale(req.CallerLanguage)
	res.Utterance = req.Utterance
	res.History = prior

	if !s.allowPremium(c) {
		outcome = "forbidden"
		res.TranslatedReply = SubscriptionRequired
		res.Error = "subscription required"
		return res
	}

	fail := func(stage string, err error) LiveCallResult {
		s.logFailure("live_call", stage, c, err)
		outcome = "failed_" + stage
		res.FailedStage = stage
		res.Error = describe(err)
		return res
	}

	// (i) caller speech into the pivot language
	toPivot, err := s.flows.Translate(ctx, flow.TranslateInput{
		Text:           req.Utterance,
		SourceLanguage: req.CallerLanguage,
		TargetLanguage: pivot,
	})
	if err != nil {
		res.PivotText = TranslateFailed
		return fail(StageTranslate, err)
	}
	pivotText, ok := speakable(toPivot.TranslatedText).Get()
	if !ok {
		res.PivotText = TranslateFailed
		return fail(StageTranslate, errEmptyTranslation)
	}
	res.PivotText = pivotText
	res.CompletedStages = append(res.CompletedStages, StageTranslate)

	// (ii) conversational reply in the pivot language
	reply, err := s.flows.Chat(ctx, flow.ChatInput{
		Message:  res.PivotText,
		Language: pivot,
		History:  prior,
	})
	if err != nil {
		res.Reply = ChatFailed
		res.History = prior.Append(domain.UserTurn(res.PivotText))
		return fail(StageRespond, err)
	}
	res.Reply = reply.Response
	res.History = prior.Append(domain.UserTurn(res.PivotText), domain.ModelTurn(reply.Response))
	res.CompletedStages = append(res.CompletedStages, StageRespond)

	// (iii) reply back into the caller's language, with insight
	back, err := s.flows.Translate(ctx, flow.TranslateInput{
		Text:                    reply.Response,
		SourceLanguage:          pivot,
		TargetLanguage:          req.CallerLanguage,
		IncludeCulturalInsights: true,
	})
	if err != nil {
		res.TranslatedReply = TranslateFailed
		return fail(StageTranslateBack, err)
	}
	res.TranslatedReply = back.TranslatedText
	res.CulturalInsights = back.CulturalInsights
	res.CompletedStages = append(res.CompletedStages, StageTranslateBack)

	// (iv) speech for the back-translated reply
	text, ok := speakable(back.TranslatedText).Get()
	if !ok {
		return res
	}
	out, err := s.flows.Speak(ctx, flow.SpeechInput{Text: text, Voice: req.Voice})
	if err != nil {
		return fail(StageSpeak, err)
	}
	res.AudioData = out.AudioDataURI
	res.CompletedStages = append(res.CompletedStages, StageSpeak)
	return res
}

func nextStage(done []string) string {
	stages := []string{StageTranslate, StageRespond, StageTranslateBack, StageSpeak}
	if len(done) < len(stages) {
		return stages[len(done)]
	}
	return ""
}
