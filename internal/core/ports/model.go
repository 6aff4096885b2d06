package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-lingua/internal/contract"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

// Modality selects what the model should produce.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// GenerateRequest is one call to the hosted model.
type GenerateRequest struct {
	// Flow names the calling flow, for logs and traces.
	Flow   string
	System string
	Turns  []domain.Turn
	// Schema requests structured JSON output matching the shape. Nil asks
	// for free text.
	Schema   *contract.Shape
	Modality Modality
	// Voice selects a prebuilt voice for audio output.
	Voice string
}

// Audio is synthesized speech.
type Audio struct {
	MIMEType string
	Data     []byte
}

// GenerateResponse is the raw model answer.
type GenerateResponse struct {
	Text  string
	Audio *Audio
	Model string
}

// Model is the hosted generative model. Implementations return
// *domain.TransportError for network, timeout and non-2xx failures.
type Model interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
