package adapter

import (
	"errors"
	"strings"
	"sync"

	"github.com/hpn/hpn-g-adapter/internal/curl"
	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

// ParseRequestTemplate parses a curl-style request template.
// Failures are reported as KindCurlParse.
func ParseRequestTemplate(text string) (*curl.Request, error) {
	req, err := curl.Parse(text)
	if err != nil {
		return nil, &Error{Kind: KindCurlParse, Msg: "invalid request template", Err: err}
	}
	return req, nil
}

// Compiled is a descriptor with its template and paths parsed. It is
// read-only once built and may be shared between goroutines.
type Compiled struct {
	ProviderID string
	Request    *curl.Request

	// Exactly one of BodyPath or QueryParam is set.
	BodyPath   jsonpath.Path
	QueryParam string

	ResponsePath jsonpath.Path
	Encoding     domain.ResponseEncoding
	MimeType     string

	fingerprint string
}

// Compile parses desc into its reusable form.
func Compile(desc *domain.ProviderDescriptor) (*Compiled, error) {
	enc := desc.ResponseEncoding.Normalize()
	if !enc.IsKnown() {
		return nil, &Error{Kind: KindUnsupportedResponseType, Msg: "response encoding " + string(desc.ResponseEncoding) + " is not supported"}
	}

	req, err := ParseRequestTemplate(desc.RequestTemplate)
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		ProviderID:  desc.ID,
		Request:     req,
		Encoding:    enc,
		MimeType:    desc.OutputMimeType,
		fingerprint: desc.Fingerprint(),
	}

	if desc.IsQueryRequestPath() {
		key, _, _ := strings.Cut(desc.RequestPath, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, pathError(DirectionRequest, desc.RequestPath, "query parameter name is empty", nil)
		}
		c.QueryParam = key
	} else {
		p, err := jsonpath.Parse(desc.RequestPath)
		if err != nil {
			return nil, pathError(DirectionRequest, desc.RequestPath, "malformed path", err)
		}
		if p.IsEmpty() {
			return nil, pathError(DirectionRequest, desc.RequestPath, "request path is empty", nil)
		}
		if req.HasBody {
			if _, ok := req.Body.(map[string]any); !ok && p[0].Kind == jsonpath.FieldSegment {
				return nil, pathError(DirectionRequest, desc.RequestPath, "template body is not an object", nil)
			}
		}
		c.BodyPath = p
	}

	c.ResponsePath, err = jsonpath.Parse(desc.ResponsePath)
	if err != nil {
		return nil, pathError(DirectionResponse, desc.ResponsePath, "malformed path", err)
	}
	return c, nil
}

// compileCache memoizes Compile per descriptor. An entry is reused only while
// the descriptor fingerprint is unchanged, so edits to a stored descriptor take
// effect on the next call.
type compileCache struct {
	mu      sync.RWMutex
	entries map[string]*Compiled
}

func newCompileCache() *compileCache {
	return &compileCache{entries: make(map[string]*Compiled)}
}

func (cc *compileCache) get(desc *domain.ProviderDescriptor) (*Compiled, error) {
	fp := desc.Fingerprint()

	cc.mu.RLock()
	c, ok := cc.entries[desc.ID]
	cc.mu.RUnlock()
	if ok && c.fingerprint == fp {
		return c, nil
	}

	c, err := Compile(desc)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.ProviderID = desc.ID
		}
		return nil, err
	}
	if desc.ID != "" {
		cc.mu.Lock()
		cc.entries[desc.ID] = c
		cc.mu.Unlock()
	}
	return c, nil
}

func (cc *compileCache) len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.entries)
}
