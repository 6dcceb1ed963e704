package handler

import (
	"github.com/hpn/hpn-g-adapter/internal/auth"
	"github.com/hpn/hpn-g-adapter/internal/domain"
)

// OpenAI-compatible request/response types.
// Each request also accepts "provider" to pin a configured provider and
// "extra" for provider-specific fields merged into the outbound body.

// ChatCompletionRequest represents an OpenAI chat completion request.
type ChatCompletionRequest struct {
	// Model is forwarded as an extra field. Templates that pin a model win.
	Model string `json:"model"`

	// Messages contains the conversation history. The last user message is sent.
	Messages []ChatMessage `json:"messages"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`

	// Stream is rejected; replies are returned whole.
	Stream bool `json:"stream,omitempty"`

	// Provider selects a configured provider id. Optional.
	Provider string `json:"provider,omitempty"`

	// Extra carries provider-specific fields. Optional.
	Extra map[string]any `json:"extra,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	// Role is one of: "system", "user", "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatCompletionResponse represents an OpenAI chat completion response.
type ChatCompletionResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider"`
	Choices  []ChatChoice `json:"choices"`
	Usage    Usage        `json:"usage"`
}

// ChatChoice represents a single completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage contains estimated token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ImageGenerationRequest represents an OpenAI image generation request.
type ImageGenerationRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Size    string `json:"size,omitempty"`
	Style   string `json:"style,omitempty"`
	Quality string `json:"quality,omitempty"`

	// ResponseFormat must be empty or "b64_json".
	ResponseFormat string `json:"response_format,omitempty"`

	Provider string         `json:"provider,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ImageGenerationResponse carries generated images inline.
type ImageGenerationResponse struct {
	Created  int64       `json:"created"`
	Provider string      `json:"provider"`
	Data     []ImageData `json:"data"`
}

// ImageData is one generated image.
type ImageData struct {
	B64JSON  string `json:"b64_json"`
	MimeType string `json:"mime_type"`
}

// SpeechRequest represents an OpenAI speech synthesis request.
// The reply body is the raw audio.
type SpeechRequest struct {
	Model          string   `json:"model,omitempty"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Language       string   `json:"language,omitempty"`
	Pitch          *float64 `json:"pitch,omitempty"`

	Provider string         `json:"provider,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ProviderView is a provider listing entry. Template text and credentials
// never appear here.
type ProviderView struct {
	domain.ProviderSummary
	Token *auth.Status `json:"token,omitempty"`
}

// ProviderList is the GET /v1/providers reply.
type ProviderList struct {
	Object string         `json:"object"`
	Data   []ProviderView `json:"data"`
}

// ErrorResponse represents an error response in OpenAI-compatible format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error details.
type ErrorDetail struct {
	// Message is the human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Param is the path or field that caused the error. Optional.
	Param *string `json:"param"`

	// Code is the engine error kind when one applies.
	Code *string `json:"code"`

	// Status is the upstream HTTP status for upstream failures.
	Status int `json:"upstream_status,omitempty"`
}
