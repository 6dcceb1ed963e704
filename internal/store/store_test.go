package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-adapter/internal/domain"
)

func sampleDescriptors() []domain.ProviderDescriptor {
	return []domain.ProviderDescriptor{
		{ID: "chat-a", Kind: domain.KindChat, IsActive: false},
		{ID: "chat-b", Kind: domain.KindChat, IsActive: true},
		{
			ID:       "voice-a",
			Kind:     domain.KindVoice,
			IsActive: true,
			Auth:     &domain.AuthConfig{LoginEndpoint: "https://login.test", TokenPath: "token", Credentials: map[string]any{"user": "u"}},
		},
	}
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	s, err := NewMemoryStore(sampleDescriptors())
	require.NoError(t, err)

	d, err := s.Get(context.Background(), "voice-a")
	require.NoError(t, err)
	d.Auth.Credentials["user"] = "mutated"
	d.IsActive = false

	again, err := s.Get(context.Background(), "voice-a")
	require.NoError(t, err)
	assert.Equal(t, "u", again.Auth.Credentials["user"])
	assert.True(t, again.IsActive)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s, err := NewMemoryStore(nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateToken(context.Background(), "missing", "t", time.Now()), ErrNotFound)
}

func TestMemoryStore_ListAndFirstActive(t *testing.T) {
	s, err := NewMemoryStore(sampleDescriptors())
	require.NoError(t, err)

	var ids []string
	for _, d := range s.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"chat-a", "chat-b", "voice-a"}, ids)

	d, err := s.FirstActive(domain.KindChat)
	require.NoError(t, err)
	assert.Equal(t, "chat-b", d.ID)

	_, err = s.FirstActive(domain.KindImage)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RejectsDuplicates(t *testing.T) {
	_, err := NewMemoryStore([]domain.ProviderDescriptor{{ID: "x"}, {ID: "x"}})
	assert.ErrorContains(t, err, "duplicate provider id")

	_, err = NewMemoryStore([]domain.ProviderDescriptor{{ID: ""}})
	assert.ErrorContains(t, err, "has no id")
}

func TestMemoryStore_ReplaceKeepsTokens(t *testing.T) {
	s, err := NewMemoryStore(sampleDescriptors())
	require.NoError(t, err)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateToken(context.Background(), "voice-a", "tok", exp))

	next := sampleDescriptors()
	next[2].Name = "renamed"
	require.NoError(t, s.Replace(next))

	d, err := s.Get(context.Background(), "voice-a")
	require.NoError(t, err)
	assert.Equal(t, "renamed", d.Name)
	assert.Equal(t, "tok", d.Token)
	assert.Equal(t, exp, d.TokenExpiresAt)
}

func TestMemoryStore_ReplaceDropsTokenWhenAuthChanges(t *testing.T) {
	s, err := NewMemoryStore(sampleDescriptors())
	require.NoError(t, err)
	require.NoError(t, s.UpdateToken(context.Background(), "voice-a", "tok", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))

	next := sampleDescriptors()
	next[2].Auth.Credentials["user"] = "someone-else"
	require.NoError(t, s.Replace(next))

	d, err := s.Get(context.Background(), "voice-a")
	require.NoError(t, err)
	assert.Empty(t, d.Token)
	assert.True(t, d.TokenExpiresAt.IsZero())
}

func TestMemoryStore_TokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tokens.yaml")
	exp := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)

	s, err := NewMemoryStore(sampleDescriptors(), WithTokenFile(NewTokenFile(path)))
	require.NoError(t, err)
	require.NoError(t, s.UpdateToken(context.Background(), "voice-a", "persisted-token", exp))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := NewMemoryStore(sampleDescriptors(), WithTokenFile(NewTokenFile(path)))
	require.NoError(t, err)
	d, err := reloaded.Get(context.Background(), "voice-a")
	require.NoError(t, err)
	assert.Equal(t, "persisted-token", d.Token)
	assert.True(t, exp.Equal(d.TokenExpiresAt))
}

func TestTokenFile_LoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	records, err := NewTokenFile(filepath.Join(dir, "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Empty(t, records)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("not: [valid"), 0o600))
	_, err = NewTokenFile(bad).Load()
	assert.ErrorContains(t, err, "tokenfile: parse")
}

func TestTokenFile_PutKeepsOtherRecords(t *testing.T) {
	tf := NewTokenFile(filepath.Join(t.TempDir(), "tokens.yaml"))
	require.NoError(t, tf.Put("a", TokenRecord{Token: "1"}))
	require.NoError(t, tf.Put("b", TokenRecord{Token: "2"}))

	records, err := tf.Load()
	require.NoError(t, err)
	assert.Equal(t, "1", records["a"].Token)
	assert.Equal(t, "2", records["b"].Token)
}
