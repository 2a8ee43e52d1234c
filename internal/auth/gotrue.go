package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/drivuber/internal/storage"
)

// TokenKey is where the backend keeps its own access token, next to the
// app's entries in the client namespace.
const TokenKey = "sb-auth-token"

var ErrInvalidToken = errors.New("invalid access token")

type GoTrueConfig struct {
	URL       string
	AnonKey   string
	JWTSecret string
}

// GoTrue talks to a GoTrue-compatible auth server. With a JWT secret access
// tokens are verified locally, otherwise each lookup asks /auth/v1/user.
type GoTrue struct {
	cfg    GoTrueConfig
	kv     storage.KV
	client *http.Client

	mu   sync.Mutex
	subs listeners
}

func NewGoTrue(cfg GoTrueConfig, kv storage.KV, client *http.Client) *GoTrue {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &GoTrue{cfg: cfg, kv: kv, client: client}
}

type userMetadata struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

type tokenClaims struct {
	Email        string       `json:"email"`
	UserMetadata userMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

type remoteUser struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	CreatedAt    time.Time    `json:"created_at"`
	UserMetadata userMetadata `json:"user_metadata"`
}

func (g *GoTrue) GetSession(ctx context.Context) (*Session, error) {
	token, ok, err := g.kv.Get(ctx, TokenKey)
	if err != nil || !ok {
		return nil, err
	}
	s, err := g.resolve(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		// stale token: forget it rather than failing every init
		return nil, g.kv.Remove(ctx, TokenKey)
	}
	return s, err
}

func (g *GoTrue) OnAuthStateChange(fn func(*Session)) func() {
	g.mu.Lock()
	id := g.subs.add(fn)
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.subs.fns, id)
		g.mu.Unlock()
	}
}

// SignInWithOAuth returns the provider authorize URL the client must open.
func (g *GoTrue) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", errors.New("oauth provider is required")
	}
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return g.cfg.URL + "/auth/v1/authorize?" + q.Encode(), nil
}

// SetSession completes the OAuth redirect: it validates the token, stores it
// and notifies listeners.
func (g *GoTrue) SetSession(ctx context.Context, accessToken string) (*Session, error) {
	s, err := g.resolve(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := g.kv.Set(ctx, TokenKey, accessToken); err != nil {
		return nil, fmt.Errorf("store access token: %w", err)
	}
	g.notify(s)
	return s, nil
}

func (g *GoTrue) SignOut(ctx context.Context) error {
	token, ok, err := g.kv.Get(ctx, TokenKey)
	if err != nil {
		return err
	}
	if err := g.kv.Remove(ctx, TokenKey); err != nil {
		return err
	}
	g.notify(nil)
	if !ok {
		return nil
	}
	req, err := g.newRequest(ctx, http.MethodPost, "/auth/v1/logout", token)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend sign-out: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("backend sign-out: status %d", resp.StatusCode)
	}
	return nil
}

func (g *GoTrue) notify(s *Session) {
	g.mu.Lock()
	fns := g.subs.snapshot()
	g.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (g *GoTrue) resolve(ctx context.Context, token string) (*Session, error) {
	if g.cfg.JWTSecret != "" {
		return g.parseLocal(token)
	}
	return g.fetchUser(ctx, token)
}

func (g *GoTrue) parseLocal(token string) (*Session, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(g.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	s := &Session{
		AccessToken: token,
		UserID:      claims.Subject,
		Email:       claims.Email,
		FullName:    claims.UserMetadata.FullName,
		AvatarURL:   claims.UserMetadata.AvatarURL,
	}
	if claims.IssuedAt != nil {
		s.CreatedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (g *GoTrue) fetchUser(ctx context.Context, token string) (*Session, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/auth/v1/user", token)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend user lookup: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("backend user lookup: status %d", resp.StatusCode)
	}
	var u remoteUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode backend user: %w", err)
	}
	return &Session{
		AccessToken: token,
		UserID:      u.ID,
		Email:       u.Email,
		FullName:    u.UserMetadata.FullName,
		AvatarURL:   u.UserMetadata.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}, nil
}

func (g *GoTrue) newRequest(ctx context.Context, method, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.URL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", g.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
