package adapter

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

func compile(t *testing.T, desc *domain.ProviderDescriptor) *Compiled {
	t.Helper()
	c, err := Compile(desc)
	require.NoError(t, err)
	return c
}

func decodeBody(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestCompose_PlacesPrimaryInput(t *testing.T) {
	c := compile(t, chatDescriptor())

	req, err := Compose(c, "hello there", nil)
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://api.example.com/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers.Get("Authorization"))

	body := decodeBody(t, req.Body)
	assert.Equal(t, "m-1", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"role": "user", "content": "hello there"}, msgs[0])
}

func TestCompose_DoesNotMutateTemplate(t *testing.T) {
	c := compile(t, chatDescriptor())

	_, err := Compose(c, "first", map[string]any{"temperature": 0.2})
	require.NoError(t, err)
	req, err := Compose(c, "second", nil)
	require.NoError(t, err)

	body := decodeBody(t, req.Body)
	assert.NotContains(t, body, "temperature")
	assert.Equal(t, "second", body["messages"].([]any)[0].(map[string]any)["content"])

	tmpl := c.Request.Body.(map[string]any)
	assert.Equal(t, "", tmpl["messages"].([]any)[0].(map[string]any)["content"])
}

func TestCompose_ExtraFields(t *testing.T) {
	desc := chatDescriptor()
	desc.RequestTemplate = `curl https://x.test -d '{"model": "fixed", "options": {"a": 1}, "prompt": ""}'`
	desc.RequestPath = "prompt"
	c := compile(t, desc)

	req, err := Compose(c, "p", map[string]any{
		"model":   "override-attempt",
		"options": map[string]any{"a": 99, "b": 2},
		"size":    "1024x1024",
		"skipped": nil,
	})
	require.NoError(t, err)

	body := decodeBody(t, req.Body)
	assert.Equal(t, "fixed", body["model"])
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, body["options"])
	assert.Equal(t, "1024x1024", body["size"])
	assert.NotContains(t, body, "skipped")
	assert.Equal(t, "p", body["prompt"])
}

func TestCompose_MaterializesMissingContainers(t *testing.T) {
	desc := chatDescriptor()
	desc.RequestTemplate = `curl https://x.test -H 'Content-Type: text/plain; charset=utf-8'`
	desc.RequestPath = "input.parts[1].text"
	c := compile(t, desc)

	req, err := Compose(c, "hi", nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{"input": {"parts": [null, {"text": "hi"}]}}`, string(req.Body))
	assert.Equal(t, "text/plain; charset=utf-8", req.Headers.Get("Content-Type"))
}

func TestCompose_DefaultsContentType(t *testing.T) {
	desc := chatDescriptor()
	desc.RequestTemplate = `curl https://x.test -d '{"text": ""}'`
	desc.RequestPath = "text"
	c := compile(t, desc)

	req, err := Compose(c, "<b>&", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", req.Headers.Get("Content-Type"))
	assert.Equal(t, `{"text":"<b>&"}`, string(req.Body))
}

func TestCompose_ConflictingScalar(t *testing.T) {
	desc := chatDescriptor()
	desc.RequestTemplate = `curl https://x.test -d '{"input": "fixed"}'`
	desc.RequestPath = "input.text"
	c := compile(t, desc)

	_, err := Compose(c, "x", nil)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindPathResolution, e.Kind)
	assert.Equal(t, DirectionRequest, e.Direction)
	assert.Equal(t, "input.text", e.Path)
}

func TestCompose_QueryMode(t *testing.T) {
	desc := &domain.ProviderDescriptor{
		ID:               "img",
		RequestTemplate:  `curl -X GET 'https://img.test/generate?size=512&prompt=old'`,
		RequestPath:      "prompt=PROMPT",
		ResponseEncoding: domain.EncodingBinary,
	}
	c := compile(t, desc)

	req, err := Compose(c, "a red fox & friends", map[string]any{
		"size":   "1024",
		"seed":   42,
		"nested": map[string]any{"x": 1},
		"hd":     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Nil(t, req.Body)
	assert.False(t, req.Headers.Has("Content-Type"))

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "a red fox & friends", q.Get("prompt"))
	assert.Equal(t, "512", q.Get("size"))
	assert.Equal(t, "42", q.Get("seed"))
	assert.Equal(t, "true", q.Get("hd"))
	assert.False(t, q.Has("nested"))
}

func TestCompose_QueryModeKeepsTemplateQuery(t *testing.T) {
	desc := &domain.ProviderDescriptor{
		ID:               "img",
		RequestTemplate:  `curl -X GET 'https://img.test/generate?b=2&prompt=old&a=1&sig=x%2Fy'`,
		RequestPath:      "prompt=PROMPT",
		ResponseEncoding: domain.EncodingBinary,
	}
	c := compile(t, desc)

	req, err := Compose(c, "a cat", map[string]any{"z": "last", "a": "ignored"})
	require.NoError(t, err)

	assert.Equal(t, "https://img.test/generate?b=2&prompt=a+cat&a=1&sig=x%2Fy&z=last", req.URL)
}

func TestCompose_QueryModeAppendsMissingParam(t *testing.T) {
	desc := &domain.ProviderDescriptor{
		ID:               "img",
		RequestTemplate:  `curl -X GET 'https://img.test/generate?token=k%3D%3D'`,
		RequestPath:      "prompt=PROMPT",
		ResponseEncoding: domain.EncodingBinary,
	}
	c := compile(t, desc)

	req, err := Compose(c, "x/y", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://img.test/generate?token=k%3D%3D&prompt=x%2Fy", req.URL)
}

func TestCompose_RejectsUnencodableExtras(t *testing.T) {
	c := compile(t, chatDescriptor())

	_, err := Compose(c, "x", map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, KindPathResolution)
}
