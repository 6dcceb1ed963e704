// Package curl turns a textual curl command into a structured request
// descriptor. Operators describe third-party providers with the same command
// they would paste into a terminal; the parser extracts the method, URL,
// headers and JSON body from it.
package curl

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// DefaultMethod is used when the template carries no explicit method flag.
const DefaultMethod = "POST"

// ParseError reports a malformed request template.
type ParseError struct {
	Offset int    // byte offset of the offending token
	Token  string // offending token, if any
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "curl: %s", e.Msg)
	if e.Token != "" {
		fmt.Fprintf(&b, " (%q)", e.Token)
	}
	fmt.Fprintf(&b, " at offset %d", e.Offset)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header is one request header.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Names compare case-insensitively.
type Headers []Header

// Get returns the value of name, or "".
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return true
		}
	}
	return false
}

// Set replaces the value of name in place, or appends it. The last write wins.
func (h *Headers) Set(name, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Request is the structured form of a request template.
type Request struct {
	Method  string
	URL     string
	Headers Headers

	// Body is the decoded JSON body, or nil when the template has none.
	// Numbers decode as json.Number so they survive re-encoding verbatim.
	Body    any
	HasBody bool
}

type flagKind int

const (
	flagBool flagKind = iota
	flagMethod
	flagHeader
	flagData
	flagJSON
	flagURL
	flagUser
	flagIgnoredValue
)

type flagSpec struct {
	kind   flagKind
	header string // for flags that map onto a header
}

var longFlags = map[string]flagSpec{
	"--request":         {kind: flagMethod},
	"--header":          {kind: flagHeader},
	"--data":            {kind: flagData},
	"--data-raw":        {kind: flagData},
	"--data-binary":     {kind: flagData},
	"--data-ascii":      {kind: flagData},
	"--json":            {kind: flagJSON},
	"--url":             {kind: flagURL},
	"--user":            {kind: flagUser},
	"--user-agent":      {kind: flagHeader, header: "User-Agent"},
	"--cookie":          {kind: flagHeader, header: "Cookie"},
	"--referer":         {kind: flagHeader, header: "Referer"},
	"--output":          {kind: flagIgnoredValue},
	"--max-time":        {kind: flagIgnoredValue},
	"--connect-timeout": {kind: flagIgnoredValue},
	"--location":        {kind: flagBool},
	"--silent":          {kind: flagBool},
	"--show-error":      {kind: flagBool},
	"--include":         {kind: flagBool},
	"--insecure":        {kind: flagBool},
	"--verbose":         {kind: flagBool},
	"--compressed":      {kind: flagBool},
	"--fail":            {kind: flagBool},
	"--no-buffer":       {kind: flagBool},
	"--globoff":         {kind: flagBool},
	"--http1.1":         {kind: flagBool},
	"--http2":           {kind: flagBool},
}

var shortFlags = map[byte]flagSpec{
	'X': {kind: flagMethod},
	'H': {kind: flagHeader},
	'd': {kind: flagData},
	'u': {kind: flagUser},
	'A': {kind: flagHeader, header: "User-Agent"},
	'b': {kind: flagHeader, header: "Cookie"},
	'e': {kind: flagHeader, header: "Referer"},
	'o': {kind: flagIgnoredValue},
	'm': {kind: flagIgnoredValue},
	'L': {kind: flagBool},
	's': {kind: flagBool},
	'S': {kind: flagBool},
	'i': {kind: flagBool},
	'k': {kind: flagBool},
	'v': {kind: flagBool},
	'f': {kind: flagBool},
	'N': {kind: flagBool},
	'g': {kind: flagBool},
}

// parser accumulates the pieces of a request while walking the tokens.
type parser struct {
	tokens []token
	pos    int

	method   string
	urls     []token
	headers  Headers
	data     []token
	jsonFlag bool
}

// Parse parses a curl command into a Request. A template without headers or
// body is valid; a body that is not JSON is not.
func Parse(text string) (*Request, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &ParseError{Msg: "empty request template"}
	}
	if first := tokens[0]; first.quoted || path.Base(first.value) != "curl" {
		return nil, &ParseError{Offset: first.offset, Token: first.value, Msg: "template must start with the curl command"}
	}

	p := &parser{tokens: tokens, pos: 1}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.build()
}

func (p *parser) run() error {
	positionalOnly := false
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch {
		case positionalOnly || tok.quoted || !strings.HasPrefix(tok.value, "-") || tok.value == "-":
			p.urls = append(p.urls, tok)
		case tok.value == "--":
			positionalOnly = true
		case strings.HasPrefix(tok.value, "--"):
			spec, ok := longFlags[tok.value]
			if !ok {
				return &ParseError{Offset: tok.offset, Token: tok.value, Msg: "unsupported flag"}
			}
			if err := p.apply(tok, spec, ""); err != nil {
				return err
			}
		default:
			if err := p.short(tok); err != nil {
				return err
			}
		}
	}
	return nil
}

// short handles -X POST, -XPOST and bundled boolean flags such as -sSL.
func (p *parser) short(tok token) error {
	letters := tok.value[1:]
	for i := 0; i < len(letters); i++ {
		spec, ok := shortFlags[letters[i]]
		if !ok {
			return &ParseError{Offset: tok.offset, Token: tok.value, Msg: "unsupported flag"}
		}
		if spec.kind == flagBool {
			continue
		}
		if rest := letters[i+1:]; rest != "" {
			return p.apply(tok, spec, rest)
		}
		return p.apply(tok, spec, "")
	}
	return nil
}

// apply consumes the value of a flag (attached or as the next token) and
// records it.
func (p *parser) apply(flag token, spec flagSpec, attached string) error {
	if spec.kind == flagBool {
		return nil
	}

	value := attached
	if value == "" {
		if p.pos >= len(p.tokens) {
			return &ParseError{Offset: flag.offset, Token: flag.value, Msg: "flag requires a value"}
		}
		value = p.tokens[p.pos].value
		p.pos++
	}
	at := token{value: value, offset: flag.offset}

	switch spec.kind {
	case flagMethod:
		m := strings.ToUpper(strings.TrimSpace(value))
		if m == "" || strings.IndexFunc(m, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
			return &ParseError{Offset: flag.offset, Token: value, Msg: "invalid method"}
		}
		if p.method != "" && p.method != m {
			return &ParseError{Offset: flag.offset, Token: value, Msg: "conflicting methods"}
		}
		p.method = m
	case flagHeader:
		if spec.header != "" {
			p.headers.Set(spec.header, value)
			return nil
		}
		name, val, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return &ParseError{Offset: flag.offset, Token: value, Msg: `header must look like "Name: value"`}
		}
		p.headers.Set(name, strings.TrimSpace(val))
	case flagData, flagJSON:
		if strings.HasPrefix(value, "@") {
			return &ParseError{Offset: flag.offset, Token: value, Msg: "file bodies are not supported"}
		}
		p.data = append(p.data, at)
		if spec.kind == flagJSON {
			p.jsonFlag = true
		}
	case flagURL:
		p.urls = append(p.urls, at)
	case flagUser:
		p.headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(value)))
	case flagIgnoredValue:
	}
	return nil
}

func (p *parser) build() (*Request, error) {
	switch len(p.urls) {
	case 0:
		return nil, &ParseError{Offset: p.tokens[0].offset, Msg: "no URL found"}
	case 1:
	default:
		extra := p.urls[1]
		return nil, &ParseError{Offset: extra.offset, Token: extra.value, Msg: "more than one URL"}
	}

	rawURL := strings.TrimSpace(p.urls[0].value)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ParseError{Offset: p.urls[0].offset, Token: rawURL, Msg: "URL must be absolute http or https", Err: err}
	}

	req := &Request{
		Method:  p.method,
		URL:     rawURL,
		Headers: p.headers,
	}
	if req.Method == "" {
		req.Method = DefaultMethod
	}

	if len(p.data) > 1 {
		return nil, &ParseError{Offset: p.data[1].offset, Token: p.data[1].value, Msg: "more than one body argument"}
	}
	if len(p.data) == 1 && strings.TrimSpace(p.data[0].value) != "" {
		body, err := decodeJSON(p.data[0].value)
		if err != nil {
			return nil, &ParseError{Offset: p.data[0].offset, Msg: "body is not valid JSON", Err: err}
		}
		req.Body = body
		req.HasBody = true
	}

	if p.jsonFlag {
		if !req.Headers.Has("Content-Type") {
			req.Headers.Set("Content-Type", "application/json")
		}
		if !req.Headers.Has("Accept") {
			req.Headers.Set("Accept", "application/json")
		}
	}
	return req, nil
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}
