package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/drivuber/internal/auth"
	"github.com/example/drivuber/internal/catalog"
	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/storage"
)

// SignInResult carries either the signed-in demo user or the URL the client
// has to follow to finish OAuth with the backend.
type SignInResult struct {
	User        *models.User `json:"user,omitempty"`
	RedirectURL string       `json:"redirect_url,omitempty"`
}

type Options struct {
	KV            storage.KV
	Backend       auth.Backend
	DemoMode      bool
	SignInDelay   time.Duration
	OAuthProvider string
	RedirectURL   string
	Now           func() time.Time
	Logger        *slog.Logger
}

// Store owns one client's identity and its booked and posted lists. Every
// mutation writes the complete list back before it becomes visible.
type Store struct {
	opts   Options
	users  *storage.Repository[models.User]
	booked *storage.Repository[[]models.BookedRide]
	posted *storage.Repository[[]models.Trip]

	mu          sync.RWMutex
	user        *models.User
	bookedRides []models.BookedRide
	postedRides []models.Trip
	lastStamp   int64
	unsubscribe func()
}

func New(opts Options) *Store {
	if opts.Backend == nil {
		opts.Backend = auth.Mock{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OAuthProvider == "" {
		opts.OAuthProvider = "google"
	}
	return &Store{
		opts:   opts,
		users:  storage.NewRepository[models.User](opts.KV, storage.KeyUser),
		booked: storage.NewRepository[[]models.BookedRide](opts.KV, storage.KeyBookedRides),
		posted: storage.NewRepository[[]models.Trip](opts.KV, storage.KeyPostedRides),
	}
}

// Init restores a stored demo identity, or else adopts a live backend
// session, and starts following backend auth changes. Backend failures are
// logged; the store then simply starts signed out.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.opts.Backend.OnAuthStateChange(s.onAuthChange)
	}
	s.mu.Unlock()

	u, ok, err := loadOrReset(ctx, s.users, s.opts.Logger)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if ok {
		s.mu.Lock()
		s.user = &u
		s.mu.Unlock()
		return s.hydrateLists(ctx)
	}

	sess, err := s.opts.Backend.GetSession(ctx)
	if err != nil {
		s.opts.Logger.Error("check backend session", "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}
	s.onAuthChange(sess)
	return s.hydrateLists(ctx)
}

func (s *Store) hydrateLists(ctx context.Context) error {
	booked, _, err := loadOrReset(ctx, s.booked, s.opts.Logger)
	if err != nil {
		return fmt.Errorf("load booked rides: %w", err)
	}
	posted, _, err := loadOrReset(ctx, s.posted, s.opts.Logger)
	if err != nil {
		return fmt.Errorf("load posted rides: %w", err)
	}
	s.mu.Lock()
	s.bookedRides, s.postedRides = booked, posted
	s.mu.Unlock()
	return nil
}

// loadOrReset treats a value that no longer decodes as absent and removes
// it, so one bad entry cannot keep the client from starting. Only storage
// I/O errors are returned.
func loadOrReset[T any](ctx context.Context, repo *storage.Repository[T], logger *slog.Logger) (T, bool, error) {
	v, ok, err := repo.Load(ctx)
	if !errors.Is(err, storage.ErrCorrupt) {
		return v, ok, err
	}
	logger.Warn("discarding corrupt stored value", "key", repo.Key(), "error", err)
	var zero T
	if err := repo.Clear(ctx); err != nil {
		return zero, false, fmt.Errorf("clear %s: %w", repo.Key(), err)
	}
	return zero, false, nil
}

func (s *Store) onAuthChange(sess *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess == nil {
		s.user = nil
		return
	}
	s.user = UserFromSession(sess)
}

// UserFromSession maps backend claims onto an app user. The display name
// falls back to the email's local part, then to "User".
func UserFromSession(sess *auth.Session) *models.User {
	name := sess.FullName
	if name == "" {
		if local, _, _ := strings.Cut(sess.Email, "@"); local != "" {
			name = local
		} else {
			name = "User"
		}
	}
	var first, last string
	if sess.FullName != "" {
		first, last, _ = strings.Cut(sess.FullName, " ")
	}
	created := ""
	if !sess.CreatedAt.IsZero() {
		created = sess.CreatedAt.UTC().Format(time.RFC3339)
	}
	return &models.User{
		ID:        sess.UserID,
		Email:     sess.Email,
		Name:      name,
		AvatarURL: sess.AvatarURL,
		FirstName: first,
		LastName:  last,
		UserType:  models.UserTypeRider,
		CreatedAt: created,
	}
}

// SignIn fabricates a demo identity when no backend is configured, after the
// configured delay. Otherwise it returns the backend's OAuth URL; the user
// arrives later through the auth listener.
func (s *Store) SignIn(ctx context.Context) (SignInResult, error) {
	if s.opts.DemoMode {
		if err := sleep(ctx, s.opts.SignInDelay); err != nil {
			return SignInResult{}, err
		}
		now := s.Stamp()
		u := models.User{
			ID:        "demo-user-" + strconv.FormatInt(now.UnixMilli(), 10),
			Email:     "demo@example.com",
			Name:      "Demo User",
			AvatarURL: catalog.DefaultAvatar,
			FirstName: "Demo",
			LastName:  "User",
			UserType:  models.UserTypeRider,
			CreatedAt: now.UTC().Format(time.RFC3339),
		}
		if err := s.users.Save(ctx, u); err != nil {
			return SignInResult{}, fmt.Errorf("save demo user: %w", err)
		}
		s.mu.Lock()
		s.user = &u
		s.mu.Unlock()
		return SignInResult{User: &u}, nil
	}

	redirect, err := s.opts.Backend.SignInWithOAuth(ctx, s.opts.OAuthProvider, s.opts.RedirectURL)
	if err != nil {
		s.opts.Logger.Error("sign in with oauth", "provider", s.opts.OAuthProvider, "error", err)
		return SignInResult{}, err
	}
	return SignInResult{RedirectURL: redirect}, nil
}

// CompleteSignIn hands the token from the OAuth redirect to the backend.
func (s *Store) CompleteSignIn(ctx context.Context, accessToken string) (*models.User, error) {
	if _, err := s.opts.Backend.SetSession(ctx, accessToken); err != nil {
		s.opts.Logger.Error("complete oauth sign in", "error", err)
		return nil, err
	}
	if err := s.hydrateLists(ctx); err != nil {
		return nil, err
	}
	return s.User(), nil
}

// SignOut clears the user and both lists locally, then tells the backend.
// A backend failure is returned after local state is already gone.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.user, s.bookedRides, s.postedRides = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	for _, clearFn := range []func(context.Context) error{s.users.Clear, s.booked.Clear, s.posted.Clear} {
		if err := clearFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.opts.Backend.SignOut(ctx); err != nil {
		s.opts.Logger.Error("backend sign out", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AddBookedRide stamps b with a synthetic id (source id + millis) and the
// booking time and appends it.
func (s *Store) AddBookedRide(ctx context.Context, b models.BookedRide) (models.BookedRide, error) {
	now := s.Stamp()
	b.ID = b.SourceID() + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	b.BookedAt = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := append(append(make([]models.BookedRide, 0, len(s.bookedRides)+1), s.bookedRides...), b)
	if err := s.booked.Save(ctx, updated); err != nil {
		return models.BookedRide{}, fmt.Errorf("save booked rides: %w", err)
	}
	s.bookedRides = updated
	return b, nil
}

// RemoveBookedRide drops the entry with the given id. Unknown ids are a no-op
// and the removed entry, if any, is returned.
func (s *Store) RemoveBookedRide(ctx context.Context, id string) (*models.BookedRide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed *models.BookedRide
	updated := make([]models.BookedRide, 0, len(s.bookedRides))
	for i := range s.bookedRides {
		if s.bookedRides[i].ID == id {
			b := s.bookedRides[i]
			removed = &b
			continue
		}
		updated = append(updated, s.bookedRides[i])
	}
	if removed == nil {
		return nil, nil
	}
	if err := s.booked.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("save booked rides: %w", err)
	}
	s.bookedRides = updated
	return removed, nil
}

// AddPostedRide puts the trip at the front of the posted list.
func (s *Store) AddPostedRide(ctx context.Context, t models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := append([]models.Trip{t}, s.postedRides...)
	if err := s.posted.Save(ctx, updated); err != nil {
		return fmt.Errorf("save posted rides: %w", err)
	}
	s.postedRides = updated
	return nil
}

func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Store) BookedRides() []models.BookedRide {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.BookedRide(nil), s.bookedRides...)
}

func (s *Store) PostedRides() []models.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Trip(nil), s.postedRides...)
}

// Stamp returns the current time truncated to milliseconds, strictly later
// than any stamp handed out before, so millisecond ids never repeat.
func (s *Store) Stamp() time.Time {
	ms := s.opts.Now().UnixMilli()
	s.mu.Lock()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}
	s.lastStamp = ms
	s.mu.Unlock()
	return time.UnixMilli(ms)
}

// Close stops following backend auth changes.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
