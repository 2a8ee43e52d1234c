package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/chat"
	"github.com/example/drivuber/internal/dispatch"
	"github.com/example/drivuber/internal/maps"
	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/session"
	"github.com/example/drivuber/internal/storage"
)

type testEnv struct {
	srv      *Server
	kv       *storage.MemoryStore
	hub      *dispatch.Hub
	registry *session.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv := storage.NewMemoryStore()
	hub := dispatch.NewHub(nil)
	reg := session.NewRegistry(session.RegistryOptions{
		KV: kv,
		Chat: func(id string) *chat.Simulator {
			return chat.New(chat.Options{Notifier: hub.Notifier(id), Picker: chat.NewPicker(1)})
		},
		Store: session.Options{DemoMode: true},
	})
	t.Cleanup(func() {
		reg.Close()
		hub.Close()
	})
	srv := NewServer(Options{Registry: reg, Hub: hub})
	return &testEnv{srv: srv, kv: kv, hub: hub, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path, client string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if client != "" {
		req.Header.Set(clientIDHeader, client)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthzAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSearchWithoutFiltersReturnsCatalog(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/trips/search", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[searchResponse](t, rec)
	assert.Len(t, resp.Trips, 8)
	assert.True(t, resp.Filters.Empty())
}

func TestSignInSearchBookAndCancel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/booked-rides", "c1", bookRequest{TripID: "trip-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please sign in to request a ride.")

	rec = env.do(t, http.MethodPost, "/api/v1/session/sign-in", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	signIn := decodeBody[session.SignInResult](t, rec)
	require.NotNil(t, signIn.User)
	assert.Equal(t, "Demo User", signIn.User.Name)

	rec = env.do(t, http.MethodGet, "/api/v1/trips/search?origin=colorado+springs&destination=amarillo", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decodeBody[searchResponse](t, rec)
	require.Len(t, found.Trips, 1)
	segID := found.Trips[0].ID
	assert.Equal(t, "trip-1-segment-1-2", segID)

	rec = env.do(t, http.MethodPost, "/api/v1/booked-rides", "c1", bookRequest{TripID: segID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		BookedRide models.BookedRide `json:"booked_ride"`
		Message    string            `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, segID, created.BookedRide.SourceID())
	assert.Equal(t, 37.5, created.BookedRide.Price())
	assert.Contains(t, created.Message, "Ride request sent!")

	rec = env.do(t, http.MethodGet, "/api/v1/session", "c1", nil)
	sess := decodeBody[sessionResponse](t, rec)
	require.Len(t, sess.BookedRides, 1)

	rec = env.do(t, http.MethodDelete, "/api/v1/booked-rides/"+created.BookedRide.ID, "c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/booked-rides", "c1", nil)
	assert.JSONEq(t, `{"booked_rides":[]}`, rec.Body.String())
}

func TestClientsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/session/sign-in", "alice", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/v1/session", "bob", nil)
	sess := decodeBody[sessionResponse](t, rec)
	assert.Nil(t, sess.User)

	rec = env.do(t, http.MethodGet, "/api/v1/session", "", nil)
	sess = decodeBody[sessionResponse](t, rec)
	assert.Nil(t, sess.User, "requests without a client id share the anonymous profile")
	assert.Equal(t, 3, env.registry.Len())
}

func TestUnknownTripIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/sign-in", "c1", nil)
	rec := env.do(t, http.MethodPost, "/api/v1/booked-rides", "c1", bookRequest{TripID: "trip-404"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Trip not found.")
}

func TestEmptySearchLimitsBookableTrips(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/sign-in", "c1", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/trips/search?origin=Nowhereville", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[searchResponse](t, rec).Trips)

	rec = env.do(t, http.MethodPost, "/api/v1/booked-rides", "c1", bookRequest{TripID: "trip-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Trip not found.")

	rec = env.do(t, http.MethodGet, "/api/v1/trips/search", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/booked-rides", "c1", bookRequest{TripID: "trip-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSessionSurvivesCorruptStoredList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, storage.Namespaced(env.kv, "c1").Set(ctx, storage.KeyPostedRides, "{not json"))

	rec := env.do(t, http.MethodGet, "/api/v1/session", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[sessionResponse](t, rec)
	assert.Empty(t, sess.PostedRides)
}

func TestPostTripThenFindIt(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/sign-in", "c1", nil)

	rec := env.do(t, http.MethodPost, "/api/v1/trips", "c1", map[string]any{
		"origin": "Boise, ID", "destination": "Salt Lake City, UT",
		"date": "2026-02-01", "time": "08:15", "available_seats": 2, "price": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/trips/search?origin=boise", "c1", nil)
	found := decodeBody[searchResponse](t, rec)
	require.Len(t, found.Trips, 1)
	assert.Equal(t, "Boise", found.Trips[0].OriginCity)

	rec = env.do(t, http.MethodGet, "/api/v1/trips/search", "c2", nil)
	assert.Len(t, decodeBody[searchResponse](t, rec).Trips, 8, "posted rides stay with their profile")
}

func TestPostTripValidation(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/sign-in", "c1", nil)
	rec := env.do(t, http.MethodPost, "/api/v1/trips", "c1", map[string]any{"origin": "Reno, NV", "destination": "reno, nv"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"destination"`)

	rec = env.do(t, http.MethodPost, "/api/v1/trips", "c1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteDegradesWithoutMaps(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/trips/trip-2/route", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[routeResponse](t, rec)
	assert.Equal(t, "Dallas, TX", resp.Route.Origin)
	assert.Equal(t, "Austin", resp.Route.ViaStops)
	assert.Equal(t, maps.KindInvalidKey, resp.Route.ErrorKind)
	assert.Equal(t, maps.Message(maps.KindInvalidKey), resp.Error)
	assert.Nil(t, resp.Summary)

	rec = env.do(t, http.MethodGet, "/api/v1/trips/nope/route", "c1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/chat/threads", "c1", nil)
	assert.Contains(t, rec.Body.String(), "threads")

	rec = env.do(t, http.MethodPost, "/api/v1/chat/messages", "c1", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/open", "c1", openChatRequest{DriverName: "John Smith"})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[chatResponse](t, rec)
	assert.Equal(t, "John Smith", state.Counterpart)
	assert.Len(t, state.Messages, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/messages", "c1", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/messages", "c1", map[string]string{"text": "Running late?"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/back", "c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/chat", "c1", nil)
	assert.Empty(t, decodeBody[chatResponse](t, rec).Messages)

	rec = env.do(t, http.MethodPost, "/api/v1/chat/open", "c1", openChatRequest{ThreadID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketReceivesReplies(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	header := http.Header{}
	header.Set(clientIDHeader, "ws-client")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/chat", header)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodPost, "/api/v1/chat/open", "ws-client", openChatRequest{DriverName: "Sarah Johnson"})
	env.do(t, http.MethodPost, "/api/v1/chat/messages", "ws-client", map[string]string{"text": "See you soon"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e chat.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Type == chat.EventMessage && e.Message != nil && e.Message.Sender == models.SenderDriver && e.Message.Text != "" {
			if strings.Contains(e.Message.Text, "Sarah Johnson") {
				continue
			}
			break
		}
	}
}
