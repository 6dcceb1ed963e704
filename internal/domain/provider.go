// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ProviderKind identifies which product feature a provider serves.
type ProviderKind string

const (
	KindChat  ProviderKind = "chat"
	KindImage ProviderKind = "image"
	KindVoice ProviderKind = "voice"
)

// ResponseEncoding declares how a provider encodes its output.
type ResponseEncoding string

const (
	// EncodingBinary means the raw reply bytes are the output.
	EncodingBinary ResponseEncoding = "binary"

	// EncodingBase64 means the output is a base64 string inside a JSON reply.
	EncodingBase64 ResponseEncoding = "base64"

	// EncodingURL means the JSON reply carries a URL that must be fetched.
	EncodingURL ResponseEncoding = "url"

	// EncodingText means the output is a value inside a JSON reply.
	EncodingText ResponseEncoding = "text"
)

// Normalize maps the empty encoding to EncodingText and lowercases the value.
// "json" is accepted as an alias of text.
func (e ResponseEncoding) Normalize() ResponseEncoding {
	switch v := ResponseEncoding(strings.ToLower(strings.TrimSpace(string(e)))); v {
	case "", "json":
		return EncodingText
	default:
		return v
	}
}

// IsKnown reports whether e is one of the four supported encodings.
func (e ResponseEncoding) IsKnown() bool {
	switch e.Normalize() {
	case EncodingBinary, EncodingBase64, EncodingURL, EncodingText:
		return true
	default:
		return false
	}
}

// AuthConfig describes the login step for providers that need a bearer token.
type AuthConfig struct {
	// LoginEndpoint is called with Credentials as a JSON body.
	LoginEndpoint string `json:"login_endpoint" mapstructure:"login_endpoint" yaml:"login_endpoint"`

	// TokenPath locates the token inside the login reply.
	TokenPath string `json:"token_path" mapstructure:"token_path" yaml:"token_path"`

	// ExpiresInPath optionally locates a lifetime in seconds inside the login reply.
	ExpiresInPath string `json:"expires_in_path,omitempty" mapstructure:"expires_in_path" yaml:"expires_in_path,omitempty"`

	// Credentials is posted verbatim to LoginEndpoint.
	Credentials map[string]any `json:"-" mapstructure:"credentials" yaml:"credentials"`

	// Header is the request header carrying the token. Defaults to Authorization.
	Header string `json:"header,omitempty" mapstructure:"header" yaml:"header,omitempty"`

	// Prefix is prepended to the token. Defaults to "Bearer ".
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// HeaderName returns the configured header or Authorization.
func (a *AuthConfig) HeaderName() string {
	if a.Header == "" {
		return "Authorization"
	}
	return a.Header
}

// HeaderValue formats token for the auth header.
func (a *AuthConfig) HeaderValue(token string) string {
	if a.Prefix == "" {
		return "Bearer " + token
	}
	return a.Prefix + token
}

// ProviderDescriptor is the stored configuration for one upstream provider.
// The engine only reads descriptors; the configuration store owns them.
type ProviderDescriptor struct {
	// ID is the opaque key the configuration store uses.
	ID string `json:"id" mapstructure:"id" yaml:"id"`

	// Name is the human-readable name of the provider.
	Name string `json:"name" mapstructure:"name" yaml:"name"`

	// Kind is the product feature this provider serves.
	Kind ProviderKind `json:"kind" mapstructure:"kind" yaml:"kind"`

	// RequestTemplate is the raw curl-style request text. It may embed secrets
	// and is never serialized back to API callers.
	RequestTemplate string `json:"-" mapstructure:"request_template" yaml:"request_template"`

	// RequestPath is where the primary input goes: a JSON path or key=value.
	RequestPath string `json:"request_path" mapstructure:"request_path" yaml:"request_path"`

	// ResponsePath locates the output inside the reply.
	ResponsePath string `json:"response_path" mapstructure:"response_path" yaml:"response_path"`

	// ResponseEncoding is one of binary, base64, url, text.
	ResponseEncoding ResponseEncoding `json:"response_encoding" mapstructure:"response_encoding" yaml:"response_encoding"`

	// OutputMimeType optionally pins the mime type of binary outputs.
	OutputMimeType string `json:"output_mime_type,omitempty" mapstructure:"output_mime_type" yaml:"output_mime_type,omitempty"`

	// Auth is set for providers requiring a login step.
	Auth *AuthConfig `json:"auth,omitempty" mapstructure:"auth" yaml:"auth,omitempty"`

	// IsActive gates invocation. Enforced by callers, not the engine.
	IsActive bool `json:"is_active" mapstructure:"is_active" yaml:"is_active"`

	// Token and TokenExpiresAt hold the last persisted bearer token.
	Token          string    `json:"-" mapstructure:"-" yaml:"-"`
	TokenExpiresAt time.Time `json:"-" mapstructure:"-" yaml:"-"`
}

// IsQueryRequestPath reports whether the request path uses the key=value form.
func (d *ProviderDescriptor) IsQueryRequestPath() bool {
	return strings.Contains(d.RequestPath, "=")
}

// Fingerprint changes whenever a field that affects compilation changes.
func (d *ProviderDescriptor) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s|%s|%s|%s",
		len(d.RequestTemplate), d.RequestTemplate, d.RequestPath, d.ResponsePath, d.ResponseEncoding)))
	return hex.EncodeToString(sum[:])
}

// Clone returns a copy that shares no mutable state with d.
func (d *ProviderDescriptor) Clone() *ProviderDescriptor {
	c := *d
	if d.Auth != nil {
		a := *d.Auth
		if d.Auth.Credentials != nil {
			a.Credentials = make(map[string]any, len(d.Auth.Credentials))
			for k, v := range d.Auth.Credentials {
				a.Credentials[k] = v
			}
		}
		c.Auth = &a
	}
	return &c
}

// Validate checks if the descriptor has all required fields.
func (d *ProviderDescriptor) Validate() []string {
	var problems []string
	if d.ID == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(d.RequestTemplate) == "" {
		problems = append(problems, "request_template is required")
	}
	if d.RequestPath == "" {
		problems = append(problems, "request_path is required")
	}
	if !d.ResponseEncoding.IsKnown() {
		problems = append(problems, fmt.Sprintf("response_encoding %q must be one of: binary, base64, url, text", d.ResponseEncoding))
	}
	switch d.Kind {
	case KindChat, KindImage, KindVoice:
	default:
		problems = append(problems, fmt.Sprintf("kind %q must be one of: chat, image, voice", d.Kind))
	}
	if d.Auth != nil {
		if d.Auth.LoginEndpoint == "" {
			problems = append(problems, "auth.login_endpoint is required")
		}
		if d.Auth.TokenPath == "" {
			problems = append(problems, "auth.token_path is required")
		}
	}
	return problems
}

// ProviderSummary is the public view of a descriptor. It omits the request
// template and credentials.
type ProviderSummary struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Kind             ProviderKind     `json:"kind"`
	ResponseEncoding ResponseEncoding `json:"response_encoding"`
	IsActive         bool             `json:"is_active"`
	RequiresLogin    bool             `json:"requires_login"`
}

// Summary returns the public view of d.
func (d *ProviderDescriptor) Summary() ProviderSummary {
	return ProviderSummary{
		ID:               d.ID,
		Name:             d.Name,
		Kind:             d.Kind,
		ResponseEncoding: d.ResponseEncoding.Normalize(),
		IsActive:         d.IsActive,
		RequiresLogin:    d.Auth != nil,
	}
}
