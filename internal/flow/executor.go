// Package flow runs single schema-validated round trips to the generative
// model.
package flow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/polyglot-lingua/internal/contract"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/prompt"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// Invocation records one execution. It is created per call and never
// persisted.
type Invocation struct {
	Flow   string
	Input  map[string]any
	Prompt prompt.Payload
	// Raw is the unvalidated model text; empty for audio flows.
	Raw    string
	Output map[string]any
	// Gated is true when the flow answered without calling the model.
	Gated    bool
	Err      error
	Duration time.Duration
}

// Executor runs flows. It holds only immutable definitions and is safe for
// concurrent use.
type Executor struct {
	model   ports.Model
	library *prompt.Library
	budget  *prompt.Budget
	defs    map[string]Definition
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithBudget trims conversational history sent to the model.
func WithBudget(b *prompt.Budget) Option {
	return func(e *Executor) { e.budget = b }
}

// WithDefinitions replaces the built-in flow set.
func WithDefinitions(defs ...Definition) Option {
	return func(e *Executor) {
		e.defs = make(map[string]Definition, len(defs))
		for _, d := range defs {
			e.defs[d.Contract.Name] = d
		}
	}
}

// NewExecutor creates an executor over model. Every flow must have a
// template in library.
func NewExecutor(model ports.Model, library *prompt.Library, opts ...Option) (*Executor, error) {
	if model == nil {
		return nil, errors.New("flow: model is required")
	}
	if library == nil {
		return nil, errors.New("flow: prompt library is required")
	}

	e := &Executor{
		model:   model,
		library: library,
		logger:  slog.Default(),
	}
	WithDefinitions(Definitions()...)(e)
	for _, opt := range opts {
		opt(e)
	}

	for name, d := range e.defs {
		if _, ok := library.Get(d.templateName()); !ok {
			return nil, fmt.Errorf("flow %s: no template %q", name, d.templateName())
		}
	}
	return e, nil
}

// Names lists the registered flows in sorted order.
func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.defs))
	for name := range e.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns a registered flow.
func (e *Executor) Definition(name string) (Definition, bool) {
	d, ok := e.defs[name]
	return d, ok
}

// Run executes a flow and returns its validated output.
func (e *Executor) Run(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	inv := e.Invoke(ctx, name, input)
	return inv.Output, inv.Err
}

// Invoke executes a flow and returns the full invocation record. On success
// Output satisfies the flow's output shape exactly; on failure Output is nil
// and Err is a *domain.ContractError, *domain.ModelContractViolation or
// *domain.TransportError.
func (e *Executor) Invoke(ctx context.Context, name string, input map[string]any) *Invocation {
	start := time.Now()
	inv := &Invocation{Flow: name}

	ctx, span := telemetry.Tracer().Start(ctx, "flow."+name)
	defer span.End()

	e.invoke(ctx, inv, input)
	inv.Duration = time.Since(start)

	outcome := "ok"
	switch {
	case inv.Err != nil:
		outcome = string(domain.KindOf(inv.Err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(inv.Err)
		span.SetStatus(codes.Error, outcome)
		e.logger.Warn("flow failed",
			slog.String("flow", name),
			slog.String("kind", outcome),
			slog.Duration("duration", inv.Duration),
			slog.String("error", inv.Err.Error()))
	case inv.Gated:
		outcome = "gated"
	}
	span.SetAttributes(
		attribute.String("lingua.flow", name),
		attribute.String("lingua.outcome", outcome),
	)
	e.metrics.ObserveFlow(name, outcome, inv.Duration)

	return inv
}

func (e *Executor) invoke(ctx context.Context, inv *Invocation, input map[string]any) {
	def, ok := e.defs[inv.Flow]
	if !ok {
		inv.Err = fmt.Errorf("flow %q: %w", inv.Flow, domain.ErrNotFound)
		return
	}

	valid, err := contract.Validate(input, def.Contract.Input)
	if err != nil {
		inv.Err = contractError(inv.Flow, err)
		return
	}
	inv.Input = valid

	if def.Gate != nil {
		if out, proceed := def.Gate(valid); !proceed {
			inv.Gated = true
			e.finish(inv, def, out)
			return
		}
	}

	tmpl, _ := e.library.Get(def.templateName())
	if def.Conversational {
		history, err := bindHistory(valid)
		if err != nil {
			inv.Err = &domain.ContractError{
				Flow:       inv.Flow,
				Violations: []domain.FieldViolation{{Path: "history", Reason: err.Error()}},
			}
			return
		}
		inv.Prompt = prompt.ComposeConversation(tmpl, valid, e.budget.Trim(history))
	} else {
		inv.Prompt = prompt.Compose(tmpl, valid)
	}

	req := &ports.GenerateRequest{
		Flow:     inv.Flow,
		System:   inv.Prompt.System,
		Turns:    inv.Prompt.Turns,
		Modality: def.Modality,
	}
	if def.Modality == ports.ModalityAudio {
		req.Voice, _ = valid["voice"].(string)
	} else {
		req.Schema = &def.Contract.Output
	}

	resp, err := e.model.Generate(ctx, req)
	if err != nil {
		inv.Err = transportError(err)
		return
	}

	if def.Modality == ports.ModalityAudio {
		if resp.Audio == nil || len(resp.Audio.Data) == 0 {
			inv.Err = &domain.ModelContractViolation{
				Flow:       inv.Flow,
				Violations: []domain.FieldViolation{{Path: "audioDataUri", Reason: "model returned no audio"}},
			}
			return
		}
		e.logger.Debug("speech synthesized",
			slog.String("flow", inv.Flow),
			slog.String("mime", resp.Audio.MIMEType),
			slog.String("size", humanize.Bytes(uint64(len(resp.Audio.Data)))))
		e.finish(inv, def, map[string]any{"audioDataUri": DataURI(resp.Audio)})
		return
	}

	inv.Raw = resp.Text
	raw, err := contract.DecodeObject(resp.Text)
	if err != nil {
		inv.Err = &domain.ModelContractViolation{Flow: inv.Flow, Raw: resp.Text, Cause: err}
		return
	}
	e.finish(inv, def, raw)
}

// finish validates out against the output shape and stores it.
func (e *Executor) finish(inv *Invocation, def Definition, out map[string]any) {
	valid, err := contract.Validate(out, def.Contract.Output)
	if err != nil {
		var ve *contract.ValidationError
		if errors.As(err, &ve) {
			inv.Err = &domain.ModelContractViolation{Flow: inv.Flow, Violations: ve.Violations, Raw: inv.Raw}
		} else {
			inv.Err = &domain.ModelContractViolation{Flow: inv.Flow, Raw: inv.Raw, Cause: err}
		}
		return
	}
	inv.Output = valid
}

func bindHistory(valid map[string]any) ([]domain.Turn, error) {
	raw, ok := valid["history"]
	if !ok {
		return nil, nil
	}
	var wrapper struct {
		History []domain.Turn `json:"history"`
	}
	if err := contract.Bind(map[string]any{"history": raw}, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.History, nil
}

func contractError(flow string, err error) error {
	var ve *contract.ValidationError
	if errors.As(err, &ve) {
		return &domain.ContractError{Flow: flow, Violations: ve.Violations}
	}
	return &domain.ContractError{
		Flow:       flow,
		Violations: []domain.FieldViolation{{Path: "", Reason: err.Error()}},
	}
}

func transportError(err error) error {
	switch domain.KindOf(err) {
	case domain.ErrorKindTransport, domain.ErrorKindModelContract, domain.ErrorKindContract:
		return err
	}
	return &domain.TransportError{Op: "model.generate", Cause: err}
}

// DataURI encodes audio as a base64 data URI.
func DataURI(a *ports.Audio) string {
	mime := a.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
