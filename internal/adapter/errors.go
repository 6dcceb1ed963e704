package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Kind classifies engine failures. A Kind is itself an error so callers can
// write errors.Is(err, adapter.KindUpstreamHTTP).
type Kind string

const (
	// KindCurlParse: the request template is malformed or its body is not JSON.
	KindCurlParse Kind = "CURL_PARSE_ERROR"

	// KindPathResolution: a request or response path resolves to nothing.
	KindPathResolution Kind = "PATH_RESOLUTION_ERROR"

	// KindUpstreamHTTP: non-success status, transport failure, or secondary fetch failure.
	KindUpstreamHTTP Kind = "UPSTREAM_HTTP_ERROR"

	// KindUpstreamTimeout: the deadline passed while waiting on the provider.
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"

	// KindUnsupportedResponseType: the response encoding is not one of the known four.
	KindUnsupportedResponseType Kind = "UNSUPPORTED_RESPONSE_TYPE"

	// KindEmptyResponse: a binary or decoded payload has zero length.
	KindEmptyResponse Kind = "EMPTY_RESPONSE"

	// KindTokenRefreshFailed: no bearer token could be obtained.
	KindTokenRefreshFailed Kind = "TOKEN_REFRESH_FAILED"

	// KindResponseDecode: the reply is not JSON where JSON is required, a
	// base64 payload does not decode, or a resolved URL is not absolute.
	KindResponseDecode Kind = "RESPONSE_DECODE_ERROR"

	// KindCanceled: the caller abandoned the invocation.
	KindCanceled Kind = "CANCELED"
)

func (k Kind) Error() string { return string(k) }

// Direction tells whether a path belongs to the request or the response.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Stage names the network call an upstream error came from.
type Stage string

const (
	StageLogin          Stage = "login"
	StagePrimary        Stage = "primary"
	StageSecondaryFetch Stage = "secondary fetch"
)

// Error is the single error type returned by the engine.
type Error struct {
	Kind       Kind
	ProviderID string

	// Direction and Path are set for path failures.
	Direction Direction
	Path      string

	// Status, BodyPreview and Stage are set for upstream failures.
	Status      int
	BodyPreview string
	Stage       Stage

	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.ProviderID != "" {
		fmt.Fprintf(&b, " [provider %s]", e.ProviderID)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " (%s)", e.Stage)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Path != "" || e.Direction != "" {
		fmt.Fprintf(&b, " [%s path %q]", e.Direction, e.Path)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.BodyPreview != "" {
		fmt.Fprintf(&b, " body: %s", e.BodyPreview)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind target against e.Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind carried by err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithoutURL removes the request URL net/http attaches to client errors.
// Template URLs can carry keys in their query string.
func WithoutURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request: %w", strings.ToLower(ue.Op), ue.Err)
	}
	return err
}

func pathError(dir Direction, path, msg string, err error) *Error {
	return &Error{Kind: KindPathResolution, Direction: dir, Path: path, Msg: msg, Err: err}
}

// previewBody returns at most n bytes of body, cut on a rune boundary.
func previewBody(body []byte, n int) string {
	if n <= 0 || len(body) == 0 {
		return ""
	}
	if len(body) <= n {
		return strings.ToValidUTF8(string(body), "?")
	}
	cut := body[:n]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.ToValidUTF8(string(cut), "?") + "..."
}
