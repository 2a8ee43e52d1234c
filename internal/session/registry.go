package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"

	"github.com/example/drivuber/internal/auth"
	"github.com/example/drivuber/internal/chat"
	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
	"github.com/example/drivuber/internal/storage"
)

var ErrMissingClientID = errors.New("missing client id")

// BackendFactory builds the auth backend for one client; kv is already
// scoped to that client.
type BackendFactory func(kv storage.KV) auth.Backend

// ChatFactory builds the chat simulator for one client.
type ChatFactory func(clientID string) *chat.Simulator

// Profile is everything the server keeps for one browser profile.
type Profile struct {
	ID    string
	Store *Store
	Chat  *chat.Simulator

	lastSeen atomic.Int64

	mu       sync.RWMutex
	searched bool
	results  []models.Trip
}

// SetResults remembers the trips last shown to the client, segments included.
// An empty slice is a search that matched nothing, not an absent search.
func (p *Profile) SetResults(trips []models.Trip) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searched = true
	p.results = append([]models.Trip(nil), trips...)
}

// ClearResults forgets the last search entirely.
func (p *Profile) ClearResults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searched = false
	p.results = nil
}

// Results returns the last search results and whether a search has run.
func (p *Profile) Results() ([]models.Trip, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Trip(nil), p.results...), p.searched
}

func (p *Profile) touch(t time.Time) { p.lastSeen.Store(t.UnixNano()) }

func (p *Profile) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.lastSeen.Load()))
}

func (p *Profile) close() {
	p.Store.Close()
	p.Chat.Close()
}

const (
	DefaultMaxProfiles = 10000
	DefaultIdleTTL     = 30 * time.Minute
)

type RegistryOptions struct {
	KV      storage.KV
	Backend BackendFactory
	Chat    ChatFactory
	// Store is the template for every client's store; KV and Backend are
	// filled in per client.
	Store  Options
	Logger *slog.Logger

	// MaxProfiles caps the profiles held in memory; the least recently
	// used one is closed to make room.
	MaxProfiles int
	// IdleTTL is how long an unused profile survives a Sweep.
	IdleTTL time.Duration
	Now     func() time.Time
}

type pendingInit struct {
	done chan struct{}
	p    *Profile
	err  error
}

// Registry lazily creates and initializes one Profile per client id. Only
// the first request for a client pays for initialization; other clients are
// never blocked by it.
type Registry struct {
	opts RegistryOptions

	mu       sync.Mutex
	profiles gcache.Cache
	pending  map[string]*pendingInit
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == nil {
		opts.Backend = func(storage.KV) auth.Backend { return auth.Mock{} }
	}
	if opts.Chat == nil {
		opts.Chat = func(string) *chat.Simulator { return chat.New(chat.Options{}) }
	}
	if opts.MaxProfiles <= 0 {
		opts.MaxProfiles = DefaultMaxProfiles
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{opts: opts, pending: make(map[string]*pendingInit)}
	r.profiles = gcache.New(opts.MaxProfiles).LRU().
		EvictedFunc(func(key, value interface{}) {
			value.(*Profile).close()
			observability.SessionsActive.Dec()
			opts.Logger.Debug("profile released", "client_id", key)
		}).
		PurgeVisitorFunc(func(_, value interface{}) {
			value.(*Profile).close()
		}).
		Build()
	return r
}

// Get returns the profile for clientID, creating and initializing it on
// first use. Concurrent first requests for one client share a single
// initialization.
func (r *Registry) Get(ctx context.Context, clientID string) (*Profile, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	for {
		r.mu.Lock()
		if v, err := r.profiles.GetIFPresent(clientID); err == nil {
			p := v.(*Profile)
			p.touch(r.opts.Now())
			r.mu.Unlock()
			return p, nil
		}
		call, waiting := r.pending[clientID]
		if !waiting {
			call = &pendingInit{done: make(chan struct{})}
			r.pending[clientID] = call
		}
		r.mu.Unlock()

		if !waiting {
			return r.initialize(ctx, clientID, call)
		}
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The initializing request gave up on its own context; try again
		// under ours.
		if isContextErr(call.err) && ctx.Err() == nil {
			continue
		}
		return call.p, call.err
	}
}

func (r *Registry) initialize(ctx context.Context, clientID string, call *pendingInit) (*Profile, error) {
	p, err := r.build(ctx, clientID)

	r.mu.Lock()
	delete(r.pending, clientID)
	if err == nil {
		p.touch(r.opts.Now())
		if err = r.profiles.Set(clientID, p); err == nil {
			observability.SessionsActive.Inc()
		} else {
			p.close()
			p = nil
		}
	}
	r.mu.Unlock()

	call.p, call.err = p, err
	close(call.done)
	return p, err
}

func (r *Registry) build(ctx context.Context, clientID string) (*Profile, error) {
	kv := storage.Namespaced(r.opts.KV, clientID)
	so := r.opts.Store
	so.KV = kv
	so.Backend = r.opts.Backend(kv)
	so.Logger = r.opts.Logger.With("client_id", clientID)
	store := New(so)
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &Profile{ID: clientID, Store: store, Chat: r.opts.Chat(clientID)}, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Sweep closes every profile unused for longer than IdleTTL and reports how
// many went. Persisted state stays in the KV store, so a returning client
// picks up where it left off.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.opts.Now()
	n := 0
	for id, v := range r.profiles.GetALL(false) {
		if v.(*Profile).idleSince(now) > r.opts.IdleTTL {
			if r.profiles.Remove(id) {
				n++
			}
		}
	}
	return n
}

// Run sweeps idle profiles every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.opts.IdleTTL / 2
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.opts.Logger.Info("idle profiles released", "count", n)
			}
		}
	}
}

// Len reports how many profiles are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles.Len(false)
}

// Close tears down every profile.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles.Purge()
	observability.SessionsActive.Set(0)
}
