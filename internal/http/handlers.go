package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/drivuber/internal/booking"
	"github.com/example/drivuber/internal/catalog"
	"github.com/example/drivuber/internal/chat"
	"github.com/example/drivuber/internal/dispatch"
	"github.com/example/drivuber/internal/maps"
	"github.com/example/drivuber/internal/matcher"
	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
	"github.com/example/drivuber/internal/session"
)

const (
	clientIDHeader   = "X-Client-ID"
	anonymousClient  = "anonymous"
	maxRequestBodyKB = 64
)

type Options struct {
	Registry *session.Registry
	Matcher  *matcher.Service
	Booking  *booking.Service
	Maps     maps.Client
	Hub      *dispatch.Hub
	Logger   *slog.Logger
}

type Server struct {
	registry *session.Registry
	matcher  *matcher.Service
	booking  *booking.Service
	maps     maps.Client
	hub      *dispatch.Hub
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Matcher == nil {
		opts.Matcher = &matcher.Service{}
	}
	if opts.Booking == nil {
		opts.Booking = booking.NewService(booking.Options{Logger: opts.Logger})
	}
	if opts.Hub == nil {
		opts.Hub = dispatch.NewHub(opts.Logger)
	}
	s := &Server{
		registry: opts.Registry,
		matcher:  opts.Matcher,
		booking:  opts.Booking,
		maps:     opts.Maps,
		hub:      opts.Hub,
		logger:   opts.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/sign-in", s.handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/session/token", s.handleToken).Methods(http.MethodPost)
	api.HandleFunc("/session/sign-out", s.handleSignOut).Methods(http.MethodPost)

	api.HandleFunc("/trips/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/trips", s.handlePostTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}/route", s.handleRoute).Methods(http.MethodGet)

	api.HandleFunc("/booked-rides", s.handleBookedRides).Methods(http.MethodGet)
	api.HandleFunc("/booked-rides", s.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/booked-rides/{id}", s.handleUnbook).Methods(http.MethodDelete)

	api.HandleFunc("/chat/threads", s.handleThreads).Methods(http.MethodGet)
	api.HandleFunc("/chat/open", s.handleOpenChat).Methods(http.MethodPost)
	api.HandleFunc("/chat/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/chat/back", s.handleChatBack).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/chat", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) profile(w http.ResponseWriter, r *http.Request) (*session.Profile, bool) {
	p, err := s.registry.Get(r.Context(), clientID(r))
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return nil, false
	}
	return p, true
}

type sessionResponse struct {
	User        *models.User        `json:"user"`
	BookedRides []models.BookedRide `json:"booked_rides"`
	PostedRides []models.Trip       `json:"posted_rides"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:        p.Store.User(),
		BookedRides: nonNil(p.Store.BookedRides()),
		PostedRides: nonNil(p.Store.PostedRides()),
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	res, err := p.Store.SignIn(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	u, err := p.Store.CompleteSignIn(r.Context(), req.AccessToken)
	if err != nil {
		s.fail(w, r, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	p.ClearResults()
	if err := p.Store.SignOut(r.Context()); err != nil {
		s.fail(w, r, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchResponse struct {
	Filters models.SearchFilters `json:"filters"`
	Query   matcher.Query        `json:"query"`
	Trips   []models.Trip        `json:"trips"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filters := models.SearchFilters{
		Origin:        strings.TrimSpace(q.Get("origin")),
		Destination:   strings.TrimSpace(q.Get("destination")),
		DepartureDate: strings.TrimSpace(q.Get("departure_date")),
	}
	query := matcher.QueryFromFilters(filters)
	trips := s.matcher.Search(query, catalog.Compose(p.Store.PostedRides()))
	p.SetResults(trips)
	writeJSON(w, http.StatusOK, searchResponse{Filters: filters, Query: query, Trips: trips})
}

func (s *Server) handlePostTrip(w http.ResponseWriter, r *http.Request) {
	var form booking.PostRideForm
	if !decode(w, r, &form) {
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	t, err := s.booking.Post(r.Context(), p.Store, form)
	var ve *booking.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": booking.MsgPostFailed, "fields": ve.Errors})
		return
	case err != nil:
		s.logger.Error("post ride failed", "client_id", p.ID, "error", err)
		observability.CaptureError(err)
		writeError(w, http.StatusInternalServerError, booking.MsgPostFailed)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"trip": t, "message": booking.MsgRidePosted})
}

type routeResponse struct {
	Route   maps.View       `json:"route"`
	Summary *maps.RouteInfo `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	t, found := s.findTrip(p, mux.Vars(r)["id"])
	if !found {
		writeError(w, http.StatusNotFound, booking.MsgTripNotFound)
		return
	}
	view := maps.Describe(r.Context(), s.maps, t.OriginLabel(), t.DestinationLabel(), t.ViaStops)
	writeJSON(w, http.StatusOK, routeResponse{Route: view, Summary: view.Info, Error: view.Error})
}

// visible is what the client may act on: its last search, even one that
// matched nothing, or the whole catalog when it has not searched yet.
func (s *Server) visible(p *session.Profile) []models.Trip {
	if results, searched := p.Results(); searched {
		return results
	}
	return catalog.Compose(p.Store.PostedRides())
}

func (s *Server) findTrip(p *session.Profile, id string) (models.Trip, bool) {
	for _, t := range s.visible(p) {
		if t.ID == id {
			return t, true
		}
	}
	return models.Trip{}, false
}

func (s *Server) handleBookedRides(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booked_rides": nonNil(p.Store.BookedRides())})
}

type bookRequest struct {
	TripID string       `json:"trip_id"`
	Ride   *models.Ride `json:"ride"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TripID == "" && req.Ride == nil {
		writeError(w, http.StatusBadRequest, "trip_id or ride is required")
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	var (
		b   models.BookedRide
		err error
	)
	if req.Ride != nil {
		b, err = s.booking.BookRide(r.Context(), p.Store, *req.Ride)
	} else {
		b, err = s.booking.RequestTrip(r.Context(), p.Store, s.visible(p), req.TripID)
	}
	switch {
	case errors.Is(err, booking.ErrNotSignedIn):
		writeError(w, http.StatusUnauthorized, booking.UserMessage(err))
		return
	case errors.Is(err, booking.ErrTripNotFound):
		writeError(w, http.StatusNotFound, booking.UserMessage(err))
		return
	case err != nil:
		s.fail(w, r, http.StatusPaymentRequired, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booked_ride": b, "message": booking.MsgRequestSent})
}

func (s *Server) handleUnbook(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	if err := s.booking.Remove(r.Context(), p.Store, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatResponse struct {
	Counterpart string               `json:"counterpart"`
	Messages    []models.ChatMessage `json:"messages"`
	Typing      bool                 `json:"typing"`
}

func chatState(c *chat.Simulator) chatResponse {
	return chatResponse{Counterpart: c.Counterpart(), Messages: c.Messages(), Typing: c.Typing()}
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": p.Chat.Threads()})
}

type openChatRequest struct {
	ThreadID   string        `json:"thread_id"`
	DriverName string        `json:"driver_name"`
	ChatType   chat.Category `json:"chat_type"`
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	var req openChatRequest
	if !decode(w, r, &req) {
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	if req.ThreadID != "" {
		if _, err := p.Chat.OpenThread(req.ThreadID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, chatState(p.Chat))
		return
	}
	if strings.TrimSpace(req.DriverName) == "" {
		writeError(w, http.StatusBadRequest, "driver_name or thread_id is required")
		return
	}
	if req.ChatType == "" {
		req.ChatType = chat.CategoryDriver
	}
	p.Chat.Open(req.DriverName, req.ChatType)
	writeJSON(w, http.StatusOK, chatState(p.Chat))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	msg, err := p.Chat.Send(req.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrNoConversation):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) handleChatBack(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	p.Chat.Back()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	p, ok := s.profile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, chatState(p.Chat))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS keeps the socket registered until the client goes away. Reads are
// only drained to notice the close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	if _, ok := s.profile(w, r); !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "client_id", id, "error", err)
		return
	}
	remove := s.hub.Add(id, conn)
	go func() {
		defer remove()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyKB<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	args := []any{"path", r.URL.Path, "status", status, "error", err}
	if rid := requestIDFromContext(r.Context()); rid != "" {
		args = append(args, "request_id", rid)
	}
	s.logger.Error("request failed", args...)
	if status >= http.StatusInternalServerError {
		observability.CaptureError(err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
