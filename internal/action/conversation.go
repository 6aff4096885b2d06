package action

import (
	"context"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
)

// ChatRequest is one learner message with the conversation so far.
type ChatRequest struct {
	Message  string         `json:"message"`
	Language string         `json:"language,omitempty"`
	History  domain.History `json:"history,omitempty"`
}

// TutorRequest is one question to the scripture tutor.
type TutorRequest struct {
	Question  string         `json:"question"`
	Tradition string         `json:"tradition,omitempty"`
	History   domain.History `json:"history,omitempty"`
}

// ConversationResult carries the reply and the appended history. On
// failure Reply holds a sentinel and History ends with the user turn.
type ConversationResult struct {
	Reply      string         `json:"reply"`
	References []string       `json:"references,omitempty"`
	History    domain.History `json:"history"`
	Error      string         `json:"error,omitempty"`
}

// Chat appends the message as a user turn and, when the model answers, the
// reply as a model turn. System turns are never kept in history.
func (s *Service) Chat(ctx context.Context, c Caller, req ChatRequest) (res ConversationResult) {
	outcome := "ok"
	prior := req.History.WithoutSystem()
	ctx, end := s.begin(ctx, "chat", c)
	defer end(&outcome, func() {
		res = ConversationResult{
			Reply:   Unexpected,
			History: prior.Append(domain.UserTurn(req.Message)),
			Error:   "unexpected failure",
		}
	})

	res.History = prior.Append(domain.UserTurn(req.Message))

	out, err := s.flows.Chat(ctx, flow.ChatInput{
		Message:  req.Message,
		Language: req.Language,
		History:  prior,
	})
	if err != nil {
		s.logFailure("chat", "chat", c, err)
		outcome = "failed"
		res.Reply = ChatFailed
		res.Error = describe(err)
		return res
	}

	res.Reply = out.Response
	res.History = res.History.Append(domain.ModelTurn(out.Response))
	return res
}

// Scripture runs the scripture tutor. It is a premium action: without the
// capability the history is returned unchanged with a sentinel reply.
func (s *Service) Scripture(ctx context.Context, c Caller, req TutorRequest) (res ConversationResult) {
	outcome := "ok"
	prior := req.History.WithoutSystem()
	ctx, end := s.begin(ctx, "scripture", c)
	defer end(&outcome, func() {
		res = ConversationResult{
			Reply:   Unexpected,
			History: prior.Append(domain.UserTurn(req.Question)),
			Error:   "unexpected failure",
		}
	})

	if !s.allowPremium(c) {
		outcome = "forbidden"
		return ConversationResult{Reply: SubscriptionRequired, History: prior, Error: "subscription required"}
	}

	res.History = prior.Append(domain.UserTurn(req.Question))

	out, err := s.flows.Tutor(ctx, flow.TutorInput{
		Question:  req.Question,
		Tradition: req.Tradition,
		History:   prior,
	})
	if err != nil {
		s.logFailure("scripture", "tutor", c, err)
		outcome = "failed"
		res.Reply = TutorFailed
		res.Error = describe(err)
		return res
	}

	res.Reply = out.Answer
	res.References = out.References
	res.History = res.History.Append(domain.ModelTurn(out.Answer))
	return res
}
