package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Placeholder values shipped in sample env files. Seeing one of them means
// the backend was never set up.
const (
	PlaceholderURL = "your_supabase_url_here"
	PlaceholderKey = "your_supabase_anon_key_here"
)

var ErrNotConfigured = errors.New("auth backend not configured: set BACKEND_URL and BACKEND_ANON_KEY")

// Session is the subset of a backend session the app reads.
type Session struct {
	AccessToken string
	UserID      string
	Email       string
	FullName    string
	AvatarURL   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Backend is the external auth service. Listeners registered with
// OnAuthStateChange receive the new session, or nil after sign-out.
type Backend interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(*Session)) (unsubscribe func())
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SetSession(ctx context.Context, accessToken string) (*Session, error)
	SignOut(ctx context.Context) error
}

// IsConfigured reports whether url and key point at a real backend.
func IsConfigured(url, key string) bool {
	url, key = strings.TrimSpace(url), strings.TrimSpace(key)
	if url == "" || key == "" {
		return false
	}
	return url != PlaceholderURL && key != PlaceholderKey
}

// Mock stands in when no backend is configured: there is never a session,
// OAuth sign-in fails and sign-out succeeds.
type Mock struct{}

func (Mock) GetSession(context.Context) (*Session, error) { return nil, nil }
func (Mock) OnAuthStateChange(func(*Session)) func() { return func() {} }
func (Mock) SignOut(context.Context) error { return nil }
func (Mock) SetSession(context.Context, string) (*Session, error) { return nil, ErrNotConfigured }
func (Mock) SignInWithOAuth(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

// listeners is a small subscription list shared by backends.
type listeners struct {
	next int
	fns  map[int]func(*Session)
}

func (l *listeners) add(fn func(*Session)) int {
	if l.fns == nil {
		l.fns = make(map[int]func(*Session))
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

func (l *listeners) snapshot() []func(*Session) {
	out := make([]func(*Session), 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}
