package feature

import (
	"context"
	"strings"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/domain"
)

var voiceFallbacks = fallbackSet{
	domain.EncodingBase64: paths("audio", "audioContent", "data.audio", "audio_base64"),
	domain.EncodingURL:    paths("audio_url", "data.audio_url", "url"),
}

// SpeechRequest asks for spoken audio of Text.
type SpeechRequest struct {
	ProviderID string
	Text       string
	Voice      string
	Language   string
	Format     string
	Speed      *float64
	Pitch      *float64
	Extra      map[string]any
}

// Voice synthesizes speech.
type Voice struct {
	engine    adapter.Engine
	providers Providers
}

// NewVoice creates a Voice feature.
func NewVoice(engine adapter.Engine, providers Providers) *Voice {
	return &Voice{engine: engine, providers: providers}
}

// Synthesize returns audio for req.Text.
func (f *Voice) Synthesize(ctx context.Context, req SpeechRequest) (Media, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Media{}, ErrEmptyInput
	}
	desc, err := pick(ctx, f.providers, req.ProviderID, domain.KindVoice)
	if err != nil {
		return Media{}, err
	}

	extra := map[string]any{}
	setIf(extra, "voice", req.Voice)
	setIf(extra, "language", req.Language)
	setIf(extra, "format", req.Format)
	setPtr(extra, "speed", req.Speed)
	setPtr(extra, "pitch", req.Pitch)

	return invokeMedia(ctx, f.engine, desc, req.Text, withExtra(extra, req.Extra), voiceFallbacks.forDescriptor(desc))
}
