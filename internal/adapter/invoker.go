package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

const (
	// DefaultMaxReplyBytes bounds how much of a provider reply is read.
	DefaultMaxReplyBytes int64 = 32 << 20

	// DefaultBodyPreviewBytes bounds the reply excerpt carried by upstream errors.
	DefaultBodyPreviewBytes = 512
)

// Invoker runs the full pipeline for one provider call: compile, authorize,
// compose, send, extract and, for the url encoding, fetch the referenced
// resource. It holds no per-call state and is safe for concurrent use.
type Invoker struct {
	httpClient    *http.Client
	tokens        TokenSource
	logger        *slog.Logger
	maxReplyBytes int64
	previewBytes  int
	timeout       time.Duration
	cache         *compileCache
}

// InvokerOption is a functional option for configuring Invoker.
type InvokerOption func(*Invoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) InvokerOption {
	return func(inv *Invoker) {
		inv.httpClient = client
	}
}

// WithTimeout bounds each Invoke call, login and url fetch included. Zero
// means no deadline beyond the caller's context.
func WithTimeout(timeout time.Duration) InvokerOption {
	return func(inv *Invoker) {
		inv.timeout = timeout
	}
}

// WithTokenSource sets the source of bearer tokens for providers with auth.
func WithTokenSource(ts TokenSource) InvokerOption {
	return func(inv *Invoker) {
		inv.tokens = ts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(inv *Invoker) {
		inv.logger = logger
	}
}

// WithMaxReplyBytes bounds reply sizes.
func WithMaxReplyBytes(n int64) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxReplyBytes = n
		}
	}
}

// WithBodyPreviewBytes sets the length of body excerpts in errors.
func WithBodyPreviewBytes(n int) InvokerOption {
	return func(inv *Invoker) {
		inv.previewBytes = n
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		httpClient:    &http.Client{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxReplyBytes: DefaultMaxReplyBytes,
		previewBytes:  DefaultBodyPreviewBytes,
		cache:         newCompileCache(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// CallOption adjusts a single Invoke call.
type CallOption func(*callOptions)

type callOptions struct {
	fallbacks []jsonpath.Path
}

// WithFallbackPaths supplies response paths tried in order when the
// descriptor has no response path of its own.
func WithFallbackPaths(paths ...jsonpath.Path) CallOption {
	return func(o *callOptions) {
		o.fallbacks = append(o.fallbacks, paths...)
	}
}

// Compile returns the compiled form of desc, reusing a cached one while desc
// is unchanged.
func (inv *Invoker) Compile(desc *domain.ProviderDescriptor) (*Compiled, error) {
	return inv.cache.get(desc)
}

// Invoke sends primaryInput to the provider described by desc and returns the
// normalized output. Every failure is an *Error.
func (inv *Invoker) Invoke(ctx context.Context, desc *domain.ProviderDescriptor, primaryInput string, extraFields map[string]any, opts ...CallOption) (CanonicalOutput, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := inv.invoke(ctx, desc, primaryInput, extraFields, co)
	elapsed := time.Since(start)

	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.ProviderID == "" {
			e.ProviderID = desc.ID
		}
		inv.logger.Warn("provider invocation failed",
			"provider", desc.ID,
			"kind", KindOf(err),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return CanonicalOutput{}, err
	}

	inv.logger.Info("provider invocation completed",
		"provider", desc.ID,
		"output_kind", out.Kind,
		"mime_type", out.MimeType,
		"bytes", len(out.Bytes)+len(out.Text),
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

func (inv *Invoker) invoke(ctx context.Context, desc *domain.ProviderDescriptor, primaryInput string, extraFields map[string]any, co callOptions) (CanonicalOutput, error) {
	compiled, err := inv.Compile(desc)
	if err != nil {
		return CanonicalOutput{}, err
	}

	var token string
	if desc.Auth != nil {
		token, err = inv.token(ctx, desc)
		if err != nil {
			return CanonicalOutput{}, err
		}
	}

	req, err := Compose(compiled, primaryInput, extraFields)
	if err != nil {
		return CanonicalOutput{}, err
	}
	if desc.Auth != nil {
		req.Headers.Set(desc.Auth.HeaderName(), desc.Auth.HeaderValue(token))
	}

	reply, err := inv.send(ctx, StagePrimary, req)
	if err != nil {
		return CanonicalOutput{}, err
	}

	ex, err := Extract(reply.body, reply.contentType, ExtractOptions{
		Encoding:     compiled.Encoding,
		ResponsePath: compiled.ResponsePath,
		Fallbacks:    co.fallbacks,
		MimeType:     compiled.MimeType,
	})
	if err != nil {
		return CanonicalOutput{}, err
	}
	if ex.FollowURL == "" {
		return ex.Output, nil
	}

	inv.logger.Debug("following provider URL", "provider", desc.ID, "url", ex.FollowURL)
	fetched, err := inv.send(ctx, StageSecondaryFetch, &ConcreteRequest{Method: http.MethodGet, URL: ex.FollowURL})
	if err != nil {
		return CanonicalOutput{}, err
	}
	if len(fetched.body) == 0 {
		return CanonicalOutput{}, &Error{Kind: KindEmptyResponse, Stage: StageSecondaryFetch, Msg: "fetched resource is empty"}
	}
	return BinaryOutput(fetched.body, resolveMimeType(compiled.MimeType, fetched.contentType, fetched.body)), nil
}

func (inv *Invoker) token(ctx context.Context, desc *domain.ProviderDescriptor) (string, error) {
	if inv.tokens == nil {
		return "", &Error{Kind: KindTokenRefreshFailed, Stage: StageLogin, Msg: "provider requires login but no token source is configured"}
	}
	token, err := inv.tokens.Token(ctx, desc)
	if err == nil {
		return token, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", classifyTransport(ctxErr, StageLogin)
	}
	var e *Error
	if errors.As(err, &e) {
		return "", err
	}
	return "", &Error{Kind: KindTokenRefreshFailed, Stage: StageLogin, Err: err}
}

type reply struct {
	status      int
	contentType string
	body        []byte
}

// send performs one HTTP exchange and enforces the reply size limit.
// Non-2xx statuses are returned as KindUpstreamHTTP with a body preview.
func (inv *Invoker) send(ctx context.Context, stage Stage, req *ConcreteRequest) (*reply, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamHTTP, Stage: stage, Msg: "failed to create http request", Err: WithoutURL(err)}
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Set(h.Name, h.Value)
	}

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err, stage)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, inv.maxReplyBytes+1))
	if err != nil {
		return nil, classifyTransport(err, stage)
	}
	if int64(len(data)) > inv.maxReplyBytes {
		return nil, &Error{
			Kind:   KindUpstreamHTTP,
			Stage:  stage,
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("reply exceeds %d bytes", inv.maxReplyBytes),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:        KindUpstreamHTTP,
			Stage:       stage,
			Status:      resp.StatusCode,
			BodyPreview: previewBody(data, inv.previewBytes),
			Msg:         "provider returned a non-success status",
		}
	}

	return &reply{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: data}, nil
}

// classifyTransport maps a transport failure onto the error taxonomy. The
// request URL is dropped from the kept cause.
func classifyTransport(err error, stage Stage) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindUpstreamTimeout, Stage: stage, Err: WithoutURL(err)}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Stage: stage, Err: WithoutURL(err)}
	default:
		return &Error{Kind: KindUpstreamHTTP, Stage: stage, Msg: "transport failure", Err: WithoutURL(err)}
	}
}
