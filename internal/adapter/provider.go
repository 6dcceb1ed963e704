// Package adapter provides the declarative provider engine.
// Providers are described by data (a curl template, a request path, a
// response path and an encoding) rather than by per-provider code.
package adapter

import (
	"context"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

// Engine is the invocation surface product features depend on.
// *Invoker satisfies it; tests substitute fakes.
type Engine interface {
	// Invoke sends primaryInput (and extraFields) to the provider described by
	// desc and returns its normalized output.
	Invoke(ctx context.Context, desc *domain.ProviderDescriptor, primaryInput string, extraFields map[string]any, opts ...CallOption) (CanonicalOutput, error)
}

// TokenSource supplies bearer tokens for providers with an auth section.
type TokenSource interface {
	Token(ctx context.Context, desc *domain.ProviderDescriptor) (string, error)
}

// OutputKind tags a CanonicalOutput.
type OutputKind string

const (
	OutputText   OutputKind = "text"
	OutputBinary OutputKind = "binary"
)

// CanonicalOutput is the normalized result of an invocation, independent of
// how the provider encoded it.
type CanonicalOutput struct {
	Kind     OutputKind `json:"kind"`
	Text     string     `json:"value,omitempty"`
	Bytes    []byte     `json:"bytes,omitempty"`
	MimeType string     `json:"mime_type,omitempty"`
}

// TextOutput returns a text output.
func TextOutput(s string) CanonicalOutput {
	return CanonicalOutput{Kind: OutputText, Text: s}
}

// BinaryOutput returns a binary output.
func BinaryOutput(b []byte, mimeType string) CanonicalOutput {
	return CanonicalOutput{Kind: OutputBinary, Bytes: b, MimeType: mimeType}
}

// IsText reports whether o carries text.
func (o CanonicalOutput) IsText() bool { return o.Kind == OutputText }
