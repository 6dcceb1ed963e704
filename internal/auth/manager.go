package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/domain"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

const (
	// DefaultTokenTTL is the validity window applied when the login reply
	// carries no lifetime.
	DefaultTokenTTL = 23 * time.Hour

	maxLoginReplyBytes = 1 << 20
	loginPreviewBytes  = 256
)

// State describes where a provider's token is in its lifecycle.
type State string

const (
	StateNoToken       State = "no_token"
	StateValid         State = "valid"
	StateExpired       State = "expired"
	StateRefreshing    State = "refreshing"
	StateRefreshFailed State = "refresh_failed"
)

// Persister receives freshly obtained tokens. It is the narrow write side of
// the configuration store.
type Persister interface {
	UpdateToken(ctx context.Context, id, token string, expiresAt time.Time) error
}

// RefreshHook observes completed refresh attempts.
type RefreshHook func(providerID string, elapsed time.Duration, err error)

// Status is the externally visible token state of one provider.
type Status struct {
	ProviderID  string    `json:"provider_id"`
	State       State     `json:"state"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type status struct {
	refreshing  bool
	refreshedAt time.Time
	lastErr     error
}

// Manager hands out bearer tokens, logging in when no valid token is cached.
// Refreshes are collapsed per provider: concurrent callers for the same
// provider share one login call and its result.
type Manager struct {
	cache      *TokenCache
	persister  Persister
	httpClient *http.Client
	logger     *slog.Logger
	ttl        time.Duration
	now        func() time.Time
	hook       RefreshHook

	group singleflight.Group

	mu     sync.Mutex
	states map[string]*status
}

// Option is a functional option for configuring Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for login calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTokenTTL sets the fixed validity window.
func WithTokenTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithPersister sets where new tokens are written.
func WithPersister(p Persister) Option {
	return func(m *Manager) {
		m.persister = p
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithCache replaces the token cache.
func WithCache(c *TokenCache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithRefreshHook registers fn to run after every refresh attempt.
func WithRefreshHook(fn RefreshHook) Option {
	return func(m *Manager) {
		m.hook = fn
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		ttl:        DefaultTokenTTL,
		now:        time.Now,
		states:     make(map[string]*status),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewTokenCache(WithCacheClock(m.now), WithCacheLogger(m.logger))
	}
	return m
}

// Cache returns the underlying token cache.
func (m *Manager) Cache() *TokenCache { return m.cache }

// detachCancel returns a context that survives the parent's cancellation but
// keeps its deadline, so one caller giving up does not fail the others
// waiting on the same refresh.
func detachCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if dl, ok := parent.Deadline(); ok {
		return context.WithDeadline(ctx, dl)
	}
	return context.WithCancel(ctx)
}

// Token returns a valid token for desc, logging in if needed. A token stored
// on the descriptor seeds the cache when it has not expired yet.
func (m *Manager) Token(ctx context.Context, desc *domain.ProviderDescriptor) (string, error) {
	if desc.Auth == nil {
		return "", nil
	}
	if tok, ok := m.cache.Get(desc.ID); ok {
		return tok.Token, nil
	}
	if seeded := (CachedToken{Token: desc.Token, ExpiresAt: desc.TokenExpiresAt}); seeded.ValidAt(m.now(), m.cache.skew) {
		m.cache.Set(desc.ID, seeded)
		return seeded.Token, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	snapshot := desc.Clone()
	ch := m.group.DoChan(desc.ID, func() (any, error) {
		if tok, ok := m.cache.Get(snapshot.ID); ok {
			return tok.Token, nil
		}
		refreshCtx, cancel := detachCancel(ctx)
		defer cancel()
		return m.refresh(refreshCtx, snapshot)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token for id so the next call logs in again.
func (m *Manager) Invalidate(id string) {
	m.cache.Delete(id)
}

// State reports the token state of id.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	st := m.states[id]
	var refreshing bool
	var lastErr error
	if st != nil {
		refreshing, lastErr = st.refreshing, st.lastErr
	}
	m.mu.Unlock()

	if refreshing {
		return StateRefreshing
	}
	tok, ok := m.cache.Peek(id)
	switch {
	case ok && tok.ValidAt(m.now(), m.cache.skew):
		return StateValid
	case lastErr != nil:
		return StateRefreshFailed
	case ok:
		return StateExpired
	default:
		return StateNoToken
	}
}

// Status reports the token state of id with timestamps.
func (m *Manager) Status(id string) Status {
	s := Status{ProviderID: id, State: m.State(id)}
	if tok, ok := m.cache.Peek(id); ok {
		s.ExpiresAt = tok.ExpiresAt
	}
	m.mu.Lock()
	if st := m.states[id]; st != nil {
		s.RefreshedAt = st.refreshedAt
		if st.lastErr != nil {
			s.LastError = st.lastErr.Error()
		}
	}
	m.mu.Unlock()
	return s
}

func (m *Manager) setRefreshing(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &status{}
		m.states[id] = st
	}
	st.refreshing = true
}

func (m *Manager) finishRefresh(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[id]
	st.refreshing = false
	st.lastErr = err
	if err == nil {
		st.refreshedAt = m.now()
	}
}

func (m *Manager) refresh(ctx context.Context, desc *domain.ProviderDescriptor) (tok string, err error) {
	start := m.now()
	m.setRefreshing(desc.ID)
	defer func() {
		m.finishRefresh(desc.ID, err)
		if m.hook != nil {
			m.hook(desc.ID, m.now().Sub(start), err)
		}
	}()

	m.logger.Info("refreshing provider token", "provider", desc.ID)

	token, expiresAt, err := m.login(ctx, desc)
	if err != nil {
		m.logger.Warn("token refresh failed", "provider", desc.ID, "kind", adapter.KindOf(err), "error", err)
		return "", err
	}

	m.cache.Set(desc.ID, CachedToken{Token: token, ExpiresAt: expiresAt, ObtainedAt: m.now()})

	if m.persister != nil {
		if perr := m.persister.UpdateToken(ctx, desc.ID, token, expiresAt); perr != nil {
			m.logger.Warn("failed to persist provider token", "provider", desc.ID, "error", perr)
		}
	}

	m.logger.Info("provider token refreshed", "provider", desc.ID, "expires_at", expiresAt)
	return token, nil
}

func loginError(msg string, err error) *adapter.Error {
	return &adapter.Error{Kind: adapter.KindTokenRefreshFailed, Stage: adapter.StageLogin, Msg: msg, Err: err}
}

// login posts the credentials and extracts the token and its expiry.
func (m *Manager) login(ctx context.Context, desc *domain.ProviderDescriptor) (string, time.Time, error) {
	auth := desc.Auth

	creds := auth.Credentials
	if creds == nil {
		creds = map[string]any{}
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return "", time.Time{}, loginError("credentials are not JSON-encodable", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.LoginEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, loginError("failed to create login request", adapter.WithoutURL(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, loginError("login call failed", adapter.WithoutURL(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginReplyBytes))
	if err != nil {
		return "", time.Time{}, loginError("failed to read login reply", adapter.WithoutURL(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := loginError("login endpoint returned a non-success status", nil)
		e.Status = resp.StatusCode
		e.BodyPreview = preview(data)
		return "", time.Time{}, e
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", time.Time{}, loginError("login reply is not JSON", err)
	}

	v, ok := jsonpath.Lookup(tree, auth.TokenPath)
	token, isString := v.(string)
	if !ok || !isString || strings.TrimSpace(token) == "" {
		e := loginError("token path does not resolve to a non-empty string", nil)
		e.Direction, e.Path = adapter.DirectionResponse, auth.TokenPath
		return "", time.Time{}, e
	}

	return token, m.expiry(tree, auth.ExpiresInPath), nil
}

// expiry applies the lifetime found at expiresInPath, or the fixed window.
func (m *Manager) expiry(tree any, expiresInPath string) time.Time {
	now := m.now()
	if expiresInPath == "" {
		return now.Add(m.ttl)
	}
	v, ok := jsonpath.Lookup(tree, expiresInPath)
	if !ok {
		return now.Add(m.ttl)
	}
	var secs int64
	var err error
	switch t := v.(type) {
	case json.Number:
		secs, err = t.Int64()
		if err != nil {
			var f float64
			f, err = t.Float64()
			secs = int64(f)
		}
	case string:
		secs, err = strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		err = errors.New("not a number")
	}
	if err != nil || secs <= 0 {
		m.logger.Debug("ignoring token lifetime", "path", expiresInPath, "value", fmt.Sprint(v))
		return now.Add(m.ttl)
	}
	return now.Add(time.Duration(secs) * time.Second)
}

func preview(b []byte) string {
	if len(b) > loginPreviewBytes {
		return strings.ToValidUTF8(string(b[:loginPreviewBytes]), "") + "..."
	}
	return strings.ToValidUTF8(string(b), "")
}
