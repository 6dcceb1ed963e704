// Package feature exposes the chat, image and voice products on top of the
// adapter engine. Each feature only picks a provider, supplies its extra
// fields and names the response paths to try when a provider leaves its
// response path empty.
package feature

import (
	"context"
	"errors"
	"fmt"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

var (
	// ErrInactive is returned for providers switched off by the operator.
	ErrInactive = errors.New("provider is inactive")

	// ErrWrongKind is returned when a provider serves another feature.
	ErrWrongKind = errors.New("provider serves a different feature")

	// ErrEmptyInput is returned when the primary input is blank.
	ErrEmptyInput = errors.New("input is empty")

	// ErrUnexpectedOutput is returned when a provider yields text where
	// binary output is required.
	ErrUnexpectedOutput = errors.New("provider returned text where media was expected")
)

// Providers looks up descriptors.
type Providers interface {
	Get(ctx context.Context, id string) (*domain.ProviderDescriptor, error)
	FirstActive(kind domain.ProviderKind) (*domain.ProviderDescriptor, error)
}

// Media is a binary feature result.
type Media struct {
	ProviderID string
	Data       []byte
	MimeType   string
}

func paths(exprs ...string) []jsonpath.Path {
	out := make([]jsonpath.Path, len(exprs))
	for i, e := range exprs {
		out[i] = jsonpath.MustParse(e)
	}
	return out
}

// fallbackSet holds the response paths tried for each encoding when a
// descriptor has no response path.
type fallbackSet map[domain.ResponseEncoding][]jsonpath.Path

func (f fallbackSet) forDescriptor(desc *domain.ProviderDescriptor) []jsonpath.Path {
	return f[desc.ResponseEncoding.Normalize()]
}

// pick resolves id (or the first active provider of kind when id is empty)
// and checks that it may serve kind.
func pick(ctx context.Context, providers Providers, id string, kind domain.ProviderKind) (*domain.ProviderDescriptor, error) {
	if id == "" {
		return providers.FirstActive(kind)
	}
	desc, err := providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !desc.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactive, id)
	}
	if desc.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrWrongKind, id, desc.Kind, kind)
	}
	return desc, nil
}

// invokeMedia runs a binary feature call.
func invokeMedia(ctx context.Context, engine adapter.Engine, desc *domain.ProviderDescriptor, input string, extra map[string]any, fallbacks []jsonpath.Path) (Media, error) {
	out, err := engine.Invoke(ctx, desc, input, extra, adapter.WithFallbackPaths(fallbacks...))
	if err != nil {
		return Media{}, err
	}
	if out.IsText() {
		return Media{}, fmt.Errorf("%w: %s", ErrUnexpectedOutput, desc.ID)
	}
	return Media{ProviderID: desc.ID, Data: out.Bytes, MimeType: out.MimeType}, nil
}

// setIf adds v under key when it is not the zero value.
func setIf[T comparable](extra map[string]any, key string, v T) {
	var zero T
	if v != zero {
		extra[key] = v
	}
}

// setPtr adds *v under key when v is set.
func setPtr[T any](extra map[string]any, key string, v *T) {
	if v != nil {
		extra[key] = *v
	}
}

// withExtra merges caller-supplied fields without overriding named ones.
func withExtra(extra, more map[string]any) map[string]any {
	for k, v := range more {
		if _, ok := extra[k]; !ok {
			extra[k] = v
		}
	}
	return extra
}
