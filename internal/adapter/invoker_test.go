package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

type staticTokens struct {
	token string
	err   error
	calls int
	mu    sync.Mutex
}

func (s *staticTokens) Token(_ context.Context, _ *domain.ProviderDescriptor) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.token, s.err
}

func descriptorFor(url, path, response string, enc domain.ResponseEncoding) *domain.ProviderDescriptor {
	return &domain.ProviderDescriptor{
		ID:               "test-provider",
		Kind:             domain.KindChat,
		RequestTemplate:  fmt.Sprintf(`curl %s -H 'Content-Type: application/json' -d '{"model": "m", "messages": [{"role": "user", "content": ""}]}'`, url),
		RequestPath:      path,
		ResponsePath:     response,
		ResponseEncoding: enc,
		IsActive:         true,
	}
}

func TestInvoker_Text(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m", body["model"])
		assert.Equal(t, 0.3, body["temperature"])
		content := body["messages"].([]any)[0].(map[string]any)["content"]

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":"echo: %s"}}]}`, content)
	}))
	defer server.Close()

	inv := NewInvoker()
	desc := descriptorFor(server.URL+"/v1/chat", "messages[0].content", "choices[0].message.content", domain.EncodingText)

	out, err := inv.Invoke(context.Background(), desc, "hello", map[string]any{"temperature": 0.3})
	require.NoError(t, err)
	assert.Equal(t, TextOutput("echo: hello"), out)
}

func TestInvoker_FallbackPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"from fallback"}}`)
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "", domain.EncodingText)
	out, err := NewInvoker().Invoke(context.Background(), desc, "q", nil,
		WithFallbackPaths(jsonpath.MustParse("choices[0].message.content"), jsonpath.MustParse("message.content")))
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out.Text)
}

func TestInvoker_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, strings.Repeat("overloaded ", 20))
	}))
	defer server.Close()

	inv := NewInvoker(WithBodyPreviewBytes(10))
	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].message.content", domain.EncodingText)

	_, err := inv.Invoke(context.Background(), desc, "x", nil)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUpstreamHTTP, e.Kind)
	assert.Equal(t, StagePrimary, e.Stage)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Equal(t, "overloaded...", e.BodyPreview)
	assert.Equal(t, "test-provider", e.ProviderID)
}

func TestInvoker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].message.content", domain.EncodingText)
	_, err := NewInvoker().Invoke(context.Background(), desc, "x", nil)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUpstreamHTTP, e.Kind)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Contains(t, e.BodyPreview, "boom")
}

func TestInvoker_ResponsePathMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{}}]}`)
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].x", domain.EncodingText)
	_, err := NewInvoker().Invoke(context.Background(), desc, "x", nil)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindPathResolution, e.Kind)
	assert.Equal(t, DirectionResponse, e.Direction)
	assert.Equal(t, "choices[0].x", e.Path)
}

func TestInvoker_TextWithoutResponsePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hidden"}}]}`)
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "", domain.EncodingText)
	out, err := NewInvoker().Invoke(context.Background(), desc, "x", nil)

	assert.ErrorIs(t, err, KindPathResolution)
	assert.Empty(t, out.Text)
}

func TestInvoker_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].message.content", domain.EncodingText)
	_, err := NewInvoker().Invoke(ctx, desc, "x", nil)
	assert.ErrorIs(t, err, KindUpstreamTimeout)
}

func TestInvoker_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].message.content", domain.EncodingText)
	_, err := NewInvoker(WithTimeout(50*time.Millisecond)).Invoke(context.Background(), desc, "x", nil)
	assert.ErrorIs(t, err, KindUpstreamTimeout)
}

func TestInvoker_TimeoutIgnoresOptionOrder(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client := &http.Client{}
	inv := NewInvoker(WithTimeout(50*time.Millisecond), WithHTTPClient(client))

	desc := descriptorFor(server.URL, "messages[0].content", "choices[0].message.content", domain.EncodingText)
	start := time.Now()
	_, err := inv.Invoke(context.Background(), desc, "x", nil)
	assert.ErrorIs(t, err, KindUpstreamTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, client.Timeout)
}

func TestInvoker_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	desc := descriptorFor("https://unreachable.invalid", "messages[0].content", "", domain.EncodingText)
	_, err := NewInvoker().Invoke(ctx, desc, "x", nil)
	assert.ErrorIs(t, err, KindCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoker_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	desc := descriptorFor(url, "messages[0].content", "", domain.EncodingText)
	_, err := NewInvoker().Invoke(context.Background(), desc, "x", nil)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUpstreamHTTP, e.Kind)
	assert.Zero(t, e.Status)
}

func TestInvoker_ReplyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "", domain.EncodingBinary)
	_, err := NewInvoker(WithMaxReplyBytes(10)).Invoke(context.Background(), desc, "x", nil)
	assert.ErrorIs(t, err, KindUpstreamHTTP)
	assert.Contains(t, err.Error(), "exceeds 10 bytes")
}

func TestInvoker_BinaryQueryMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "a cat", r.URL.Query().Get("prompt"))
		assert.Equal(t, "256", r.URL.Query().Get("width"))
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)

		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	}))
	defer server.Close()

	desc := &domain.ProviderDescriptor{
		ID:               "img",
		Kind:             domain.KindImage,
		RequestTemplate:  fmt.Sprintf(`curl -X GET '%s/prompt?width=256'`, server.URL),
		RequestPath:      "prompt=PROMPT",
		ResponseEncoding: domain.EncodingBinary,
	}

	out, err := NewInvoker().Invoke(context.Background(), desc, "a cat", map[string]any{"width": 1024})
	require.NoError(t, err)
	assert.Equal(t, BinaryOutput(pngHeader, "image/png"), out)
}

func TestInvoker_FollowsURL(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[{"url":"%s/files/out.png"}]}`, server.URL)
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngHeader)
	})
	mux.HandleFunc("/files/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	inv := NewInvoker()
	desc := descriptorFor(server.URL+"/generate", "messages[0].content", "data[0].url", domain.EncodingURL)

	out, err := inv.Invoke(context.Background(), desc, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, BinaryOutput(pngHeader, "image/png"), out)

	mux.HandleFunc("/generate-missing", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[{"url":"%s/files/missing.png"}]}`, server.URL)
	})
	desc = descriptorFor(server.URL+"/generate-missing", "messages[0].content", "data[0].url", domain.EncodingURL)

	_, err = inv.Invoke(context.Background(), desc, "x", nil)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUpstreamHTTP, e.Kind)
	assert.Equal(t, StageSecondaryFetch, e.Stage)
	assert.Equal(t, http.StatusNotFound, e.Status)
}

func TestInvoker_AuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token abc", r.Header.Get("X-Api-Token"))
		fmt.Fprint(w, `{"audio":"SUQzBAAAAAAAAA=="}`)
	}))
	defer server.Close()

	desc := descriptorFor(server.URL, "messages[0].content", "audio", domain.EncodingBase64)
	desc.Auth = &domain.AuthConfig{LoginEndpoint: "https://login.test", TokenPath: "token", Header: "X-Api-Token", Prefix: "Token "}
	tokens := &staticTokens{token: "abc"}

	out, err := NewInvoker(WithTokenSource(tokens)).Invoke(context.Background(), desc, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, OutputBinary, out.Kind)
	assert.Equal(t, 1, tokens.calls)
}

func TestInvoker_TokenFailures(t *testing.T) {
	desc := descriptorFor("https://x.test", "messages[0].content", "", domain.EncodingText)
	desc.Auth = &domain.AuthConfig{LoginEndpoint: "https://login.test", TokenPath: "token"}

	_, err := NewInvoker().Invoke(context.Background(), desc, "x", nil)
	assert.ErrorIs(t, err, KindTokenRefreshFailed)

	boom := errors.New("login refused")
	_, err = NewInvoker(WithTokenSource(&staticTokens{err: boom})).Invoke(context.Background(), desc, "x", nil)
	assert.ErrorIs(t, err, KindTokenRefreshFailed)
	assert.ErrorIs(t, err, boom)
}

func TestInvoker_ConcurrentCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"out": body.Messages[0].Content})
	}))
	defer server.Close()

	inv := NewInvoker()
	desc := descriptorFor(server.URL, "messages[0].content", "out", domain.EncodingText)

	var wg sync.WaitGroup
	results := make([]string, 20)
	errs := make([]error, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := inv.Invoke(context.Background(), desc, fmt.Sprintf("input-%d", i), nil)
			results[i], errs[i] = out.Text, err
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("input-%d", i), results[i])
	}
	assert.Equal(t, 1, inv.cache.len())
}
