package feature

import (
	"context"
	"strings"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/domain"
)

var imageFallbacks = fallbackSet{
	domain.EncodingBase64: paths("data[0].b64_json", "images[0]", "artifacts[0].base64"),
	domain.EncodingURL:    paths("data[0].url", "output[0]"),
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	ProviderID string
	Prompt     string
	Size       string
	Style      string
	Quality    string
	Extra      map[string]any
}

// Image generates images.
type Image struct {
	engine    adapter.Engine
	providers Providers
}

// NewImage creates an Image feature.
func NewImage(engine adapter.Engine, providers Providers) *Image {
	return &Image{engine: engine, providers: providers}
}

// Generate returns the image for req.Prompt.
func (f *Image) Generate(ctx context.Context, req ImageRequest) (Media, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Media{}, ErrEmptyInput
	}
	desc, err := pick(ctx, f.providers, req.ProviderID, domain.KindImage)
	if err != nil {
		return Media{}, err
	}

	extra := map[string]any{}
	setIf(extra, "size", req.Size)
	setIf(extra, "style", req.Style)
	setIf(extra, "quality", req.Quality)

	return invokeMedia(ctx, f.engine, desc, req.Prompt, withExtra(extra, req.Extra), imageFallbacks.forDescriptor(desc))
}
