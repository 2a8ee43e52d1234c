package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/storage"
)

const testSecret = "super-secret-jwt-token"

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "user-123",
		"email": "jane@example.com",
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"exp":   exp.Unix(),
		"user_metadata": map[string]any{
			"full_name":  "Jane Q Public",
			"avatar_url": "https://example.com/jane.png",
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestIsConfigured(t *testing.T) {
	assert.False(t, IsConfigured("", "key"))
	assert.False(t, IsConfigured("https://x.supabase.co", " "))
	assert.False(t, IsConfigured(PlaceholderURL, "key"))
	assert.False(t, IsConfigured("https://x.supabase.co", PlaceholderKey))
	assert.True(t, IsConfigured("https://x.supabase.co", "anon"))
}

func TestMockBackend(t *testing.T) {
	ctx := context.Background()
	var m Mock
	s, err := m.GetSession(ctx)
	assert.NoError(t, err)
	assert.Nil(t, s)
	_, err = m.SignInWithOAuth(ctx, "google", "/search")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, m.SignOut(ctx))
}

func TestGoTrueAuthorizeURL(t *testing.T) {
	g := NewGoTrue(GoTrueConfig{URL: "https://auth.example.com/", AnonKey: "anon"}, storage.NewMemoryStore(), nil)
	raw, err := g.SignInWithOAuth(context.Background(), "google", "http://localhost:5173/search")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	assert.Equal(t, "google", u.Query().Get("provider"))
	assert.Equal(t, "http://localhost:5173/search", u.Query().Get("redirect_to"))

	_, err = g.SignInWithOAuth(context.Background(), "", "")
	assert.Error(t, err)
}

func TestGoTrueLocalTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	logouts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/v1/logout" {
			logouts++
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	kv := storage.NewMemoryStore()
	g := NewGoTrue(GoTrueConfig{URL: srv.URL, AnonKey: "anon", JWTSecret: testSecret}, kv, srv.Client())

	var seen []*Session
	unsubscribe := g.OnAuthStateChange(func(s *Session) { seen = append(seen, s) })
	defer unsubscribe()

	s, err := g.SetSession(ctx, signToken(t, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "user-123", s.UserID)
	assert.Equal(t, "Jane Q Public", s.FullName)

	got, err := g.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jane@example.com", got.Email)

	require.NoError(t, g.SignOut(ctx))
	assert.Equal(t, 1, logouts)
	got, err = g.GetSession(ctx)
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.Len(t, seen, 2)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
}

func TestGoTrueExpiredTokenIsForgotten(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, TokenKey, signToken(t, time.Now().Add(-time.Minute))))
	g := NewGoTrue(GoTrueConfig{URL: "http://unused", AnonKey: "anon", JWTSecret: testSecret}, kv, nil)

	s, err := g.GetSession(ctx)
	assert.NoError(t, err)
	assert.Nil(t, s)
	_, ok, _ := kv.Get(ctx, TokenKey)
	assert.False(t, ok)
}

func TestGoTrueRemoteLookup(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "u-1",
			"email":         "sam@example.com",
			"created_at":    "2025-03-01T10:00:00Z",
			"user_metadata": map[string]any{},
		})
	}))
	defer srv.Close()

	g := NewGoTrue(GoTrueConfig{URL: srv.URL, AnonKey: "anon"}, storage.NewMemoryStore(), srv.Client())
	s, err := g.SetSession(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, 2025, s.CreatedAt.Year())

	_, err = g.SetSession(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGoTrueSignOutErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, TokenKey, "tok"))
	g := NewGoTrue(GoTrueConfig{URL: srv.URL, AnonKey: "anon"}, kv, srv.Client())
	assert.Error(t, g.SignOut(ctx))
	_, ok, _ := kv.Get(ctx, TokenKey)
	assert.False(t, ok, "token is dropped even when the backend call fails")
}
