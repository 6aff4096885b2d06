// Package gemini adapts the Gemini generative model to ports.Model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Algenib"
)

// Config configures the adapter.
type Config struct {
	APIKey      string
	Model       string
	SpeechModel string
	Voice       string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.Model against the Gemini API.
type Client struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

var _ ports.Model = (*Client)(nil)

// every category the API accepts, all unblocked
var safetyOff = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// Generate sends one request. Structured requests ask for JSON matching
// req.Schema; audio requests go to the speech model and come back as WAV.
func (c *Client) Generate(ctx context.Context, req *ports.GenerateRequest) (*ports.GenerateResponse, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	model := c.cfg.Model
	config := &genai.GenerateContentConfig{SafetySettings: safetyOff}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	switch {
	case req.Modality == ports.ModalityAudio:
		model = c.cfg.SpeechModel
		voice := req.Voice
		if voice == "" {
			voice = c.cfg.Voice
		}
		config.ResponseModalities = []string{"AUDIO"}
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	case req.Schema != nil:
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = SchemaFor(*req.Schema)
	}

	contents := toContents(req.Turns)
	if len(contents) == 0 {
		return nil, fmt.Errorf("%s: no turns to send", req.Flow)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		c.logger.Error("gemini request failed",
			slog.String("flow", req.Flow),
			slog.String("model", model),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, transportError(err)
	}

	c.logger.Debug("gemini request completed",
		slog.String("flow", req.Flow),
		slog.String("model", model),
		slog.Duration("duration", time.Since(start)))

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		c.logger.Warn("gemini blocked prompt",
			slog.String("flow", req.Flow),
			slog.String("reason", string(resp.PromptFeedback.BlockReason)))
	}

	out := &ports.GenerateResponse{Model: resp.ModelVersion}
	if out.Model == "" {
		out.Model = model
	}
	if req.Modality == ports.ModalityAudio {
		out.Audio = extractAudio(resp)
		return out, nil
	}
	out.Text = resp.Text()
	return out, nil
}

func toContents(turns []domain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role
		switch t.Role {
		case domain.RoleUser:
			role = genai.RoleUser
		case domain.RoleModel:
			role = genai.RoleModel
		default:
			continue
		}
		parts := make([]*genai.Part, 0, len(t.Content))
		for _, seg := range t.Content {
			parts = append(parts, genai.NewPartFromText(seg.Text))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

// extractAudio returns the first inline audio part, wrapping raw PCM in a
// WAV container so it is directly playable.
func extractAudio(resp *genai.GenerateContentResponse) *ports.Audio {
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			blob := part.InlineData
			if isRawPCM(blob.MIMEType) {
				return &ports.Audio{
					MIMEType: "audio/wav",
					Data:     encodeWAV(blob.Data, sampleRate(blob.MIMEType)),
				}
			}
			return &ports.Audio{MIMEType: blob.MIMEType, Data: blob.Data}
		}
	}
	return nil
}

func transportError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.TransportError{Op: "gemini.generate", StatusCode: apiErr.Code, Cause: err}
	}
	return &domain.TransportError{Op: "gemini.generate", Cause: err}
}
