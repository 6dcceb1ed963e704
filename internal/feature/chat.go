package feature

import (
	"context"
	"strings"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/domain"
)

var chatFallbacks = paths(
	"choices[0].message.content",
	"candidates[0].content.parts[0].text",
	"message.content",
	"content[0].text",
	"[0].generated_text",
	"output",
)

// ChatRequest is one chat turn.
type ChatRequest struct {
	ProviderID  string
	Message     string
	Model       string
	Temperature *float64
	MaxTokens   *int
	Extra       map[string]any
}

// ChatReply is the provider's answer.
type ChatReply struct {
	ProviderID string
	Text       string
}

// Chat sends messages to chat providers.
type Chat struct {
	engine    adapter.Engine
	providers Providers
}

// NewChat creates a Chat feature.
func NewChat(engine adapter.Engine, providers Providers) *Chat {
	return &Chat{engine: engine, providers: providers}
}

// Complete sends req.Message and returns the reply text.
func (c *Chat) Complete(ctx context.Context, req ChatRequest) (ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatReply{}, ErrEmptyInput
	}
	desc, err := pick(ctx, c.providers, req.ProviderID, domain.KindChat)
	if err != nil {
		return ChatReply{}, err
	}

	extra := map[string]any{}
	setIf(extra, "model", req.Model)
	setPtr(extra, "temperature", req.Temperature)
	setPtr(extra, "max_tokens", req.MaxTokens)

	out, err := c.engine.Invoke(ctx, desc, req.Message, withExtra(extra, req.Extra), adapter.WithFallbackPaths(chatFallbacks...))
	if err != nil {
		return ChatReply{}, err
	}
	text := out.Text
	if !out.IsText() {
		text = string(out.Bytes)
	}
	return ChatReply{ProviderID: desc.ID, Text: text}, nil
}
