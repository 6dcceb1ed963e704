package adapter

import (
	"encoding/base64"
	"mime"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

// ExtractOptions controls how a reply is turned into a CanonicalOutput.
type ExtractOptions struct {
	Encoding     domain.ResponseEncoding
	ResponsePath jsonpath.Path

	// Fallbacks are tried in order when ResponsePath is empty.
	Fallbacks []jsonpath.Path

	// MimeType, when set, is reported for binary outputs instead of a
	// detected type.
	MimeType string
}

// Extraction is the result of Extract. For the url encoding FollowURL is set
// and Output is empty until the secondary fetch completes.
type Extraction struct {
	Output    CanonicalOutput
	FollowURL string
}

// Extract applies the response encoding to a reply body.
func Extract(body []byte, contentType string, opts ExtractOptions) (Extraction, error) {
	switch opts.Encoding.Normalize() {
	case domain.EncodingBinary:
		if len(body) == 0 {
			return Extraction{}, &Error{Kind: KindEmptyResponse, Msg: "reply body is empty"}
		}
		return Extraction{Output: BinaryOutput(body, resolveMimeType(opts.MimeType, contentType, body))}, nil

	case domain.EncodingText:
		v, path, err := resolveReply(body, opts)
		if err != nil {
			return Extraction{}, err
		}
		s, err := textOf(v)
		if err != nil {
			return Extraction{}, &Error{Kind: KindResponseDecode, Direction: DirectionResponse, Path: path, Err: err}
		}
		return Extraction{Output: TextOutput(s)}, nil

	case domain.EncodingBase64:
		s, path, err := resolveString(body, opts)
		if err != nil {
			return Extraction{}, err
		}
		payload, uriMime := splitDataURI(s)
		data, err := DecodeBase64(payload)
		if err != nil {
			return Extraction{}, &Error{Kind: KindResponseDecode, Direction: DirectionResponse, Path: path, Msg: "value is not valid base64", Err: err}
		}
		if len(data) == 0 {
			return Extraction{}, &Error{Kind: KindEmptyResponse, Direction: DirectionResponse, Path: path, Msg: "decoded payload is empty"}
		}
		declared := opts.MimeType
		if declared == "" {
			declared = uriMime
		}
		return Extraction{Output: BinaryOutput(data, resolveMimeType(declared, "", data))}, nil

	case domain.EncodingURL:
		s, path, err := resolveString(body, opts)
		if err != nil {
			return Extraction{}, err
		}
		s = strings.TrimSpace(s)
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Extraction{}, &Error{Kind: KindResponseDecode, Direction: DirectionResponse, Path: path, Msg: "value is not an absolute http(s) URL", Err: err}
		}
		return Extraction{FollowURL: s}, nil

	default:
		return Extraction{}, &Error{Kind: KindUnsupportedResponseType, Msg: "response encoding " + string(opts.Encoding) + " is not supported"}
	}
}

// resolveReply decodes body as JSON and resolves the response path, or the
// first fallback that yields a non-null value.
func resolveReply(body []byte, opts ExtractOptions) (any, string, error) {
	tree, err := decodeReply(body)
	if err != nil {
		return nil, opts.ResponsePath.String(), &Error{Kind: KindResponseDecode, Direction: DirectionResponse, Path: opts.ResponsePath.String(), Msg: "reply is not JSON", Err: err}
	}

	if !opts.ResponsePath.IsEmpty() {
		expr := opts.ResponsePath.String()
		v, ok := opts.ResponsePath.Get(tree)
		if !ok || v == nil {
			return nil, expr, pathError(DirectionResponse, expr, "path resolves to nothing", nil)
		}
		return v, expr, nil
	}

	if len(opts.Fallbacks) == 0 {
		return nil, "", pathError(DirectionResponse, "", "no response path or fallback configured", nil)
	}
	tried := make([]string, 0, len(opts.Fallbacks))
	for _, p := range opts.Fallbacks {
		if v, ok := p.Get(tree); ok && v != nil {
			return v, p.String(), nil
		}
		tried = append(tried, p.String())
	}
	return nil, strings.Join(tried, " | "), pathError(DirectionResponse, strings.Join(tried, " | "), "no fallback path resolves", nil)
}

func resolveString(body []byte, opts ExtractOptions) (string, string, error) {
	v, path, err := resolveReply(body, opts)
	if err != nil {
		return "", path, err
	}
	s, ok := v.(string)
	if !ok {
		return "", path, pathError(DirectionResponse, path, "value is "+describe(v)+", want a string", nil)
	}
	return s, path, nil
}

func describe(v any) string {
	switch v.(type) {
	case map[string]any:
		return "an object"
	case []any:
		return "a list"
	case bool:
		return "a boolean"
	default:
		return "a number"
	}
}

// StripDataURIPrefix removes a leading "data:<mime>;base64," prefix.
// Applying it twice is the same as applying it once.
func StripDataURIPrefix(s string) string {
	payload, _ := splitDataURI(s)
	return payload
}

func splitDataURI(s string) (payload, mimeType string) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return s, ""
	}
	idx := strings.Index(strings.ToLower(s), ";base64,")
	if idx < 0 {
		return s, ""
	}
	return s[idx+len(";base64,"):], s[len("data:"):idx]
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not.
// Whitespace inside the payload is ignored.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// resolveMimeType picks the declared type, then the reply Content-Type, then
// content sniffing.
func resolveMimeType(declared, contentType string, data []byte) string {
	if declared != "" {
		return declared
	}
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "application/octet-stream", "binary/octet-stream":
			default:
				return mt
			}
		}
	}
	detected := mimetype.Detect(data).String()
	if mt, _, err := mime.ParseMediaType(detected); err == nil {
		return mt
	}
	return detected
}
