package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const baseConfig = `
providers:
  - id: chat-1
    kind: chat
    request_template: |-
      curl https://api.example.com/v1/chat -H 'Authorization: Bearer ${CFG_TEST_KEY}' -d '{"prompt":""}'
    request_path: prompt
    response_path: choices[0].text
    response_encoding: text
    is_active: true
  - id: img-1
    kind: image
    request_template: curl https://img.example.com/gen -d '{"p":""}'
    request_path: p
    response_encoding: base64
    auth:
      login_endpoint: https://img.example.com/login
      token_path: token
      credentials:
        clientId: app
        clientSecret: ${CFG_TEST_SECRET}
        scopes: [read, "${CFG_TEST_SCOPE}"]
`

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setSecrets(t *testing.T) {
	t.Setenv("CFG_TEST_KEY", "sk-abc")
	t.Setenv("CFG_TEST_SECRET", "s3cret")
	t.Setenv("CFG_TEST_SCOPE", "write")
}

func TestLoad_Defaults(t *testing.T) {
	t.Log("=== TEST: Defaults applied around a provider list ===")
	setSecrets(t)
	path := writeFile(t, t.TempDir(), baseConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.File() != path {
		t.Errorf("File() = %q, want %q", cfg.File(), path)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.UpstreamTimeout() != 90*time.Second {
		t.Errorf("upstream timeout = %v", cfg.UpstreamTimeout())
	}
	if cfg.TokenTTL() != 23*time.Hour {
		t.Errorf("token ttl = %v", cfg.TokenTTL())
	}
	if cfg.Engine.MaxReplyBytes != 32<<20 {
		t.Errorf("max reply bytes = %d", cfg.Engine.MaxReplyBytes)
	}
	if !cfg.Logging.Console {
		t.Error("console should default to on")
	}
	if len(cfg.Providers) != 2 || len(cfg.ActiveProviders()) != 1 {
		t.Errorf("providers = %d, active = %d", len(cfg.Providers), len(cfg.ActiveProviders()))
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	setSecrets(t)
	t.Setenv("HPN_ADAPTER_SERVER_PORT", "9090")
	t.Setenv("HPN_ADAPTER_ENGINE_UPSTREAM_TIMEOUT_SECONDS", "0")
	path := writeFile(t, t.TempDir(), baseConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.UpstreamTimeout() != 0 {
		t.Errorf("timeout = %v, want none", cfg.UpstreamTimeout())
	}
}

func TestLoad_ExpandsPlaceholders(t *testing.T) {
	t.Log("=== TEST: ${ENV} placeholders and credential key case ===")
	setSecrets(t)
	path := writeFile(t, t.TempDir(), baseConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	chat, _ := cfg.GetProvider("chat-1")
	if !strings.Contains(chat.RequestTemplate, "Bearer sk-abc") {
		t.Errorf("template not expanded: %s", chat.RequestTemplate)
	}

	img, ok := cfg.GetProvider("img-1")
	if !ok || img.Auth == nil {
		t.Fatal("img-1 auth missing")
	}
	creds := img.Auth.Credentials
	if creds["clientSecret"] != "s3cret" {
		t.Errorf("clientSecret = %v (keys: %v)", creds["clientSecret"], creds)
	}
	if creds["clientId"] != "app" {
		t.Errorf("camelCase key lost: %v", creds)
	}
	scopes, _ := creds["scopes"].([]any)
	if len(scopes) != 2 || scopes[1] != "write" {
		t.Errorf("scopes = %v", creds["scopes"])
	}
}

func TestLoad_MissingEnv(t *testing.T) {
	t.Setenv("CFG_TEST_KEY", "sk-abc")
	t.Setenv("CFG_TEST_SECRET", "")
	os.Unsetenv("CFG_TEST_SECRET")
	t.Setenv("CFG_TEST_SCOPE", "write")
	path := writeFile(t, t.TempDir(), baseConfig)

	_, err := Load(path)
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingEnvError, got %v", err)
	}
	if missing.Name != "CFG_TEST_SECRET" || missing.Provider != "img-1" {
		t.Errorf("unexpected %+v", missing)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Log("=== TEST: Validation aggregates problems ===")
	setSecrets(t)
	body := baseConfig + `
  - id: chat-1
    kind: sms
    request_template: curl https://x.example.com
    request_path: q
    response_encoding: xml
server:
  port: 70000
`
	path := writeFile(t, t.TempDir(), body)

	_, err := Load(path)
	if !IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	var ve *ValidationError
	errors.As(err, &ve)

	for _, field := range []string{"server.port", `duplicate id "chat-1"`, "response_encoding", "kind"} {
		if !ve.HasError(field) {
			t.Errorf("missing problem for %s in %v", field, ve.Errors)
		}
	}
	if !strings.Contains(ve.Error(), "providers[2]") {
		t.Errorf("problems should name the provider index: %s", ve.Error())
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	t.Log("=== TEST: Watch reloads after a write ===")
	setSecrets(t)
	dir := t.TempDir()
	path := writeFile(t, dir, baseConfig)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		cfg *Configuration
		err error
	}
	changes := make(chan result, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Configuration, _ fsnotify.Event, err error) {
			changes <- result{cfg, err}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	trimmed := baseConfig[:strings.Index(baseConfig, "  - id: img-1")]
	writeFile(t, dir, trimmed)

	select {
	case r := <-changes:
		if r.err != nil {
			t.Fatalf("reload error: %v", r.err)
		}
		if len(r.cfg.Providers) != 1 {
			t.Errorf("providers = %d, want 1", len(r.cfg.Providers))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	writeFile(t, dir, "providers: [")
	select {
	case r := <-changes:
		if r.err == nil {
			t.Error("expected an error for broken YAML")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed for broken file")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_NoFile(t *testing.T) {
	err := Watch(context.Background(), "", func(*Configuration, fsnotify.Event, error) {})
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
