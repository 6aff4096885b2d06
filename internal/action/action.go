// Package action composes flows into the user-facing operations. Actions
// never return errors: every call yields a result whose unfilled fields
// carry an "Error: ..." sentinel.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// ErrorPrefix marks a result field that could not be populated.
const ErrorPrefix = "Error: "

const (
	TranslateFailed      = ErrorPrefix + "Could not translate text."
	ChatFailed           = ErrorPrefix + "Could not get a response."
	TutorFailed          = ErrorPrefix + "Could not get an answer."
	SpeechFailed         = ErrorPrefix + "Could not synthesize speech."
	SubscriptionRequired = ErrorPrefix + "This feature requires an active subscription."
	Unexpected           = ErrorPrefix + "Something went wrong."
)

// IsSentinel reports whether s is an error sentinel rather than content.
func IsSentinel(s string) bool {
	return strings.HasPrefix(s, ErrorPrefix)
}

// Capabilities are the caller's entitlements, resolved per request and
// passed in explicitly.
type Capabilities struct {
	Admin      bool `json:"admin"`
	Subscribed bool `json:"subscribed"`
}

// Premium reports whether premium actions are unlocked.
func (c Capabilities) Premium() bool { return c.Admin || c.Subscribed }

// Caller identifies who runs an action.
type Caller struct {
	UserID    string
	SessionID string
	Caps      Capabilities
}

// Policy holds the deployment-wide switches that gate actions.
type Policy struct {
	PremiumRequiresSubscription bool
}

// Flows is the part of the flow executor that actions use.
type Flows interface {
	Translate(ctx context.Context, in flow.TranslateInput) (flow.TranslateOutput, error)
	Speak(ctx context.Context, in flow.SpeechInput) (flow.SpeechOutput, error)
	Chat(ctx context.Context, in flow.ChatInput) (flow.ChatOutput, error)
	Tutor(ctx context.Context, in flow.TutorInput) (flow.TutorOutput, error)
}

// HistorySink receives successful translations for background persistence.
// It must not block.
type HistorySink interface {
	SubmitTranslation(ctx context.Context, caller Caller, rec domain.TranslationRecord, hasAudio bool)
}

// Service runs actions.
type Service struct {
	flows   Flows
	sink    HistorySink
	policy  atomic.Pointer[Policy]
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() int64
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHistorySink persists successful translations.
func WithHistorySink(sink HistorySink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy.Store(&p) }
}

// New creates a Service.
func New(flows Flows, opts ...Option) *Service {
	s := &Service{
		flows:  flows,
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
		now:    nowMillis,
	}
	s.policy.Store(&Policy{PremiumRequiresSubscription: true})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPolicy swaps the gating policy; in-flight actions keep the old one.
func (s *Service) SetPolicy(p Policy) {
	s.policy.Store(&p)
}

// Policy returns the current gating policy.
func (s *Service) Policy() Policy {
	return *s.policy.Load()
}

func (s *Service) allowPremium(c Caller) bool {
	return !s.Policy().PremiumRequiresSubscription || c.Caps.Premium()
}

// begin starts the span for an action. The returned func records the
// outcome and recovers a panic, calling onPanic so the caller can fill its
// result with sentinels.
func (s *Service) begin(ctx context.Context, name string, c Caller) (context.Context, func(outcome *string, onPanic func())) {
	ctx, span := s.tracer.Start(ctx, "action."+name,
		trace.WithAttributes(attribute.String("lingua.user", c.UserID)))

	return ctx, func(outcome *string, onPanic func()) {
		if r := recover(); r != nil {
			s.logger.Error("action panicked",
				slog.String("action", name),
				slog.String("user", c.UserID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
			onPanic()
			*outcome = "panic"
		}
		if *outcome != "ok" {
			span.SetStatus(codes.Error, *outcome)
		}
		span.SetAttributes(attribute.String("lingua.outcome", *outcome))
		span.End()
		s.metrics.ObserveAction(name, *outcome)
	}
}

// logFailure records why a step failed without exposing it to the user.
func (s *Service) logFailure(action, step string, c Caller, err error) {
	s.logger.Warn("action step failed",
		slog.String("action", action),
		slog.String("step", step),
		slog.String("user", c.UserID),
		slog.String("kind", string(domain.KindOf(err))),
		slog.String("error", err.Error()))
}

// describe turns err into the short explanation returned alongside a
// sentinel. Raw model output never appears here.
func describe(err error) string {
	switch domain.KindOf(err) {
	case domain.ErrorKindContract:
		return err.Error()
	case domain.ErrorKindModelContract:
		return "the model returned an unexpected response"
	case domain.ErrorKindTransport:
		return "the language service is unavailable"
	}
	if errors.Is(err, errEmptyTranslation) {
		return err.Error()
	}
	return "unexpected failure"
}

// errEmptyTranslation stops a pipeline whose translation step produced
// nothing to pass on.
var errEmptyTranslation = errors.New("the translation was empty")

// speakable is the text worth synthesizing: present, non-blank and not a
// sentinel.
func speakable(text string) domain.Option[string] {
	if strings.TrimSpace(text) == "" || IsSentinel(text) {
		return domain.None[string]()
	}
	return domain.Some(text)
}
