// Package handler provides the HTTP surface of the adapter: OpenAI-compatible
// chat, image and speech endpoints, the provider listing and health.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/auth"
	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/feature"
	"github.com/hpn/hpn-g-adapter/internal/store"
	"github.com/hpn/hpn-g-adapter/internal/ui"
)

// StatusClientClosedRequest is returned when the caller went away mid-call.
const StatusClientClosedRequest = 499

// ProviderLister lists configured providers.
type ProviderLister interface {
	List() []*domain.ProviderDescriptor
}

// TokenStatus reports token state for providers with a login step.
type TokenStatus interface {
	Status(id string) auth.Status
}

// API serves the HTTP endpoints.
type API struct {
	chat      *feature.Chat
	image     *feature.Image
	voice     *feature.Voice
	providers ProviderLister
	tokens    TokenStatus
	usage     *UsageTracker
	logger    *slog.Logger
	console   bool
	now       func() time.Time
}

// Option is a functional option for configuring API.
type Option func(*API)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithTokenStatus adds token state to the provider listing.
func WithTokenStatus(t TokenStatus) Option {
	return func(a *API) {
		a.tokens = t
	}
}

// WithUsageTracker shares a usage tracker.
func WithUsageTracker(u *UsageTracker) Option {
	return func(a *API) {
		if u != nil {
			a.usage = u
		}
	}
}

// WithConsole enables colored per-invocation console lines.
func WithConsole(enabled bool) Option {
	return func(a *API) {
		a.console = enabled
	}
}

// NewAPI creates the HTTP API.
func NewAPI(chat *feature.Chat, image *feature.Image, voice *feature.Voice, providers ProviderLister, opts ...Option) *API {
	a := &API{
		chat:      chat,
		image:     image,
		voice:     voice,
		providers: providers,
		usage:     NewUsageTracker(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Usage returns the tracker backing /health.
func (a *API) Usage() *UsageTracker { return a.usage }

// Register mounts the routes on r.
func (a *API) Register(r gin.IRouter) {
	r.GET("/health", a.HandleHealth)

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", a.HandleChatCompletion)
		v1.POST("/images/generations", a.HandleImageGeneration)
		v1.POST("/audio/speech", a.HandleSpeech)
		v1.GET("/providers", a.HandleProviders)
	}
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (a *API) HandleChatCompletion(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error(), "", "")
		return
	}
	if req.Stream {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "streaming is not supported", "stream", "")
		return
	}
	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "messages must contain a non-empty user message", "messages", "")
		return
	}

	extra := copyExtra(req.Extra)
	if req.TopP != nil {
		extra["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		extra["stop"] = req.Stop
	}
	if req.User != "" {
		extra["user"] = req.User
	}

	start := time.Now()
	reply, err := a.chat.Complete(c.Request.Context(), feature.ChatRequest{
		ProviderID:  req.Provider,
		Message:     prompt,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Extra:       extra,
	})
	if err != nil {
		a.fail(c, "chat", req.Provider, start, err)
		return
	}

	usage := a.usage.RecordChat(reply.ProviderID, prompt, reply.Text)
	a.succeed(c, reply.ProviderID, "chat", "text", len(reply.Text), start)

	model := req.Model
	if model == "" {
		model = reply.ProviderID
	}
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:       "chatcmpl-" + c.GetString(ctxRequestID),
		Object:   "chat.completion",
		Created:  a.now().Unix(),
		Model:    model,
		Provider: reply.ProviderID,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: reply.Text},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

// HandleImageGeneration handles POST /v1/images/generations.
func (a *API) HandleImageGeneration(c *gin.Context) {
	var req ImageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error(), "", "")
		return
	}
	if req.ResponseFormat != "" && req.ResponseFormat != "b64_json" {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "response_format must be b64_json", "response_format", "")
		return
	}

	extra := copyExtra(req.Extra)
	if req.Model != "" {
		extra["model"] = req.Model
	}

	start := time.Now()
	media, err := a.image.Generate(c.Request.Context(), feature.ImageRequest{
		ProviderID: req.Provider,
		Prompt:     req.Prompt,
		Size:       req.Size,
		Style:      req.Style,
		Quality:    req.Quality,
		Extra:      extra,
	})
	if err != nil {
		a.fail(c, "image", req.Provider, start, err)
		return
	}

	a.usage.RecordMedia(media.ProviderID, req.Prompt, len(media.Data))
	a.succeed(c, media.ProviderID, "image", media.MimeType, len(media.Data), start)

	c.JSON(http.StatusOK, ImageGenerationResponse{
		Created:  a.now().Unix(),
		Provider: media.ProviderID,
		Data: []ImageData{{
			B64JSON:  base64.StdEncoding.EncodeToString(media.Data),
			MimeType: media.MimeType,
		}},
	})
}

// HandleSpeech handles POST /v1/audio/speech. The reply body is the audio.
func (a *API) HandleSpeech(c *gin.Context) {
	var req SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error(), "", "")
		return
	}

	extra := copyExtra(req.Extra)
	if req.Model != "" {
		extra["model"] = req.Model
	}

	start := time.Now()
	media, err := a.voice.Synthesize(c.Request.Context(), feature.SpeechRequest{
		ProviderID: req.Provider,
		Text:       req.Input,
		Voice:      req.Voice,
		Language:   req.Language,
		Format:     req.ResponseFormat,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		Extra:      extra,
	})
	if err != nil {
		a.fail(c, "voice", req.Provider, start, err)
		return
	}

	a.usage.RecordMedia(media.ProviderID, req.Input, len(media.Data))
	a.succeed(c, media.ProviderID, "voice", media.MimeType, len(media.Data), start)

	c.Header("X-Provider-ID", media.ProviderID)
	c.Data(http.StatusOK, media.MimeType, media.Data)
}

// HandleProviders handles GET /v1/providers.
func (a *API) HandleProviders(c *gin.Context) {
	descs := a.providers.List()
	list := ProviderList{Object: "list", Data: make([]ProviderView, 0, len(descs))}
	for _, d := range descs {
		view := ProviderView{ProviderSummary: d.Summary()}
		if d.Auth != nil && a.tokens != nil {
			st := a.tokens.Status(d.ID)
			view.Token = &st
		}
		list.Data = append(list.Data, view)
	}
	c.JSON(http.StatusOK, list)
}

// HandleHealth handles GET /health.
func (a *API) HandleHealth(c *gin.Context) {
	descs := a.providers.List()
	active := map[domain.ProviderKind]int{}
	total := 0
	for _, d := range descs {
		if d.IsActive {
			active[d.Kind]++
			total++
		}
	}

	status := "healthy"
	if total == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"providers":        len(descs),
		"active_providers": total,
		"active_by_kind":   active,
		"usage":            a.usage.Snapshot(),
	})
}

// succeed records the provider for logging and prints the console line.
func (a *API) succeed(c *gin.Context, providerID, featureName, output string, size int, start time.Time) {
	c.Set(ctxProvider, providerID)
	if a.console {
		ui.PrintInvocation(providerID, featureName, output, size, time.Since(start))
	}
}

// fail maps err to a status and writes the error reply.
func (a *API) fail(c *gin.Context, featureName, requested string, start time.Time, err error) {
	providerID := requested
	var aerr *adapter.Error
	if errors.As(err, &aerr) && aerr.ProviderID != "" {
		providerID = aerr.ProviderID
	}
	c.Set(ctxProvider, providerID)

	f := classify(err)
	if f.code != "" {
		c.Set(ctxErrorKind, f.code)
	}
	a.usage.RecordFailure(providerID)

	a.logger.Warn("feature call failed",
		slog.String("feature", featureName),
		slog.String("provider", providerID),
		slog.String("request_id", c.GetString(ctxRequestID)),
		slog.Int("status", f.status),
		slog.String("error", err.Error()),
	)
	if a.console {
		ui.PrintInvocationFailed(providerID, f.code, time.Since(start))
	}

	msg := f.message
	if msg == "" {
		msg = err.Error()
	}
	detail := ErrorDetail{Message: msg, Type: f.errType, Status: f.upstream}
	if f.param != "" {
		detail.Param = &f.param
	}
	if f.code != "" {
		detail.Code = &f.code
	}
	c.JSON(f.status, ErrorResponse{Error: detail})
}

type failure struct {
	status   int
	errType  string
	code     string
	param    string
	message  string
	upstream int
}

// classify maps a feature or engine error onto an HTTP reply. Configuration
// errors get a generic message so template text never reaches callers.
func classify(err error) failure {
	var aerr *adapter.Error
	if errors.As(err, &aerr) {
		f := failure{code: string(aerr.Kind)}
		switch aerr.Kind {
		case adapter.KindCurlParse, adapter.KindUnsupportedResponseType:
			f.status, f.errType = http.StatusInternalServerError, "configuration_error"
			f.message = fmt.Sprintf("provider %s is misconfigured", aerr.ProviderID)
		case adapter.KindPathResolution:
			if aerr.Direction == adapter.DirectionRequest {
				f.status, f.errType = http.StatusInternalServerError, "configuration_error"
			} else {
				f.status, f.errType = http.StatusBadGateway, "upstream_error"
			}
			f.param = aerr.Path
		case adapter.KindUpstreamTimeout:
			f.status, f.errType = http.StatusGatewayTimeout, "timeout_error"
		case adapter.KindCanceled:
			f.status, f.errType = StatusClientClosedRequest, "canceled"
		default:
			f.status, f.errType = http.StatusBadGateway, "upstream_error"
			f.upstream = aerr.Status
		}
		if f.message == "" {
			f.message = clientMessage(aerr)
		}
		return f
	}

	switch {
	case errors.Is(err, feature.ErrEmptyInput), errors.Is(err, feature.ErrWrongKind):
		return failure{status: http.StatusBadRequest, errType: "invalid_request_error"}
	case errors.Is(err, store.ErrNotFound):
		return failure{status: http.StatusNotFound, errType: "invalid_request_error", code: "provider_not_found", param: "provider"}
	case errors.Is(err, feature.ErrInactive):
		return failure{status: http.StatusConflict, errType: "invalid_request_error", code: "provider_inactive", param: "provider"}
	case errors.Is(err, feature.ErrUnexpectedOutput):
		return failure{status: http.StatusBadGateway, errType: "upstream_error", code: "unexpected_output"}
	case errors.Is(err, context.Canceled):
		return failure{status: StatusClientClosedRequest, errType: "canceled", code: string(adapter.KindCanceled)}
	}
	return failure{status: http.StatusInternalServerError, errType: "server_error", message: "Internal server error"}
}

// clientMessage describes an engine failure from its structured fields only.
// The wrapped cause stays in the logs: it can quote template data.
func clientMessage(e *adapter.Error) string {
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
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.BodyPreview != "" {
		fmt.Fprintf(&b, " body: %s", e.BodyPreview)
	}
	return b.String()
}

// sendOpenAIError sends an error response in OpenAI-compatible format.
func (a *API) sendOpenAIError(c *gin.Context, status int, errType, message, param, code string) {
	detail := ErrorDetail{Message: message, Type: errType}
	if param != "" {
		detail.Param = &param
	}
	if code != "" {
		detail.Code = &code
	}
	c.JSON(status, ErrorResponse{Error: detail})
}

// lastUserMessage returns the newest non-empty user message.
func lastUserMessage(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}

func copyExtra(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}
