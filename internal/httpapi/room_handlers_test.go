package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/hireloop/voiceroom/internal/backend"
	"github.com/hireloop/voiceroom/internal/convai"
	"github.com/hireloop/voiceroom/internal/kvstore"
	"github.com/hireloop/voiceroom/internal/media"
	"github.com/hireloop/voiceroom/internal/room"
)

type grantHandle struct {
	kind media.Kind
	live atomic.Bool
}

func (h *grantHandle) Kind() media.Kind { return h.kind }
func (h *grantHandle) Live() bool       { return h.live.Load() }
func (h *grantHandle) Level() float64   { return 0.2 }
func (h *grantHandle) Stop() error      { h.live.Store(false); return nil }

type grantAcquirer struct{}

func (grantAcquirer) Acquire(_ context.Context, kind media.Kind) (media.Handle, error) {
	h := &grantHandle{kind: kind}
	h.live.Store(true)
	return h, nil
}

type scriptedSession struct {
	id        string
	events    chan convai.Event
	closeOnce sync.Once
}

func (s *scriptedSession) ID() string                  { return s.id }
func (s *scriptedSession) Events() <-chan convai.Event { return s.events }
func (s *scriptedSession) Close() error {
	s.closeOnce.Do(func() {
		s.events <- convai.Event{Type: convai.EventDisconnected}
		close(s.events)
	})
	return nil
}

type scriptedOpener struct {
	mu       sync.Mutex
	sessions []*scriptedSession
}

func (o *scriptedOpener) Open(_ context.Context, _ convai.SessionConfig) (room.ProviderSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &scriptedSession{
		id:     fmt.Sprintf("conv_%d", len(o.sessions)+1),
		events: make(chan convai.Event, 16),
	}
	s.events <- convai.Event{Type: convai.EventConnected}
	o.sessions = append(o.sessions, s)
	return s, nil
}

type apiFixture struct {
	srv      *httptest.Server
	registry *RoomRegistry
	opener   *scriptedOpener
	kv       kvstore.Store
	api      *fakeBackend
}

type fakeBackend struct {
	mu        sync.Mutex
	completed []string
	reports   []string
}

func (b *fakeBackend) JobOffer(_ context.Context, id string) (*backend.JobOffer, error) {
	return &backend.JobOffer{ID: id, Title: "Backend Engineer", CompanyName: "Acme"}, nil
}

func (b *fakeBackend) CompleteGuestInterview(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, id)
	return nil
}

func (b *fakeBackend) CreateReport(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, jobID)
	return nil
}

const testJWTSecret = "test-secret"

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	kv := kvstore.NewMemStore()
	opener := &scriptedOpener{}
	api := &fakeBackend{}

	factory := func(identity *room.Identity) *room.Controller {
		ctxStore := room.NewContextStore(kv, logger)
		coord := room.NewCoordinator(
			grantAcquirer{},
			opener,
			nil,
			ctxStore,
			nil,
			logger,
			room.CoordinatorConfig{LevelInterval: 5 * time.Millisecond},
		)
		return room.NewController(room.ControllerConfig{
			Coordinator:  coord,
			Backend:      api,
			ContextStore: ctxStore,
			Identity:     identity,
			Logger:       logger,
		})
	}

	registry := NewRoomRegistry()
	cfg := RouterConfig{JWTSecret: testJWTSecret, StopGrace: 20 * time.Millisecond}
	srv := httptest.NewServer(NewRouter(cfg, logger, registry, factory))
	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	return &apiFixture{srv: srv, registry: registry, opener: opener, kv: kv, api: api}
}

func signTestToken(t *testing.T, candidateID, email string) string {
	t.Helper()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   candidateID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		CandidateID: candidateID,
		Email:       email,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func createRoom(t *testing.T, f *apiFixture, token string) string {
	t.Helper()
	var created struct {
		RoomID string `json:"roomId"`
	}
	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms", token, nil, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room status = %d, want 201", resp.StatusCode)
	}
	if created.RoomID == "" {
		t.Fatal("create room returned no id")
	}
	return created.RoomID
}

func TestCreateAndStartRoom(t *testing.T) {
	f := newAPIFixture(t)
	id := createRoom(t, f, "")

	var state roomStateResponse
	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "",
		room.StartForm{FullName: "Jane Doe"}, &state)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	if state.State.Status != room.StatusConnecting && state.State.Status != room.StatusConnected {
		t.Errorf("status after start = %q", state.State.Status)
	}

	// The connected state lands shortly after, visible via GET state.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doJSON(t, http.MethodGet, f.srv.URL+"/api/rooms/"+id+"/state", "", nil, &state)
		if state.State.Status == room.StatusConnected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if state.State.Status != room.StatusConnected || state.State.SessionID == "" {
		t.Errorf("state = %+v, want connected with session id", state.State)
	}
}

func TestStartUnknownRoomReturns404(t *testing.T) {
	f := newAPIFixture(t)

	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/nope/start", "",
		room.StartForm{}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDoubleStartReturnsConflict(t *testing.T) {
	f := newAPIFixture(t)
	id := createRoom(t, f, "")

	if resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
}

func TestStopReturnsDestinationAndStaysReadable(t *testing.T) {
	f := newAPIFixture(t)
	id := createRoom(t, f, "")
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{}, nil)

	var state roomStateResponse
	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/stop", "", nil, &state)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	if state.Destination != "/interview/thank-you" {
		t.Errorf("destination = %q, want generic thank-you", state.Destination)
	}
	if !state.State.SessionEnded {
		t.Error("stop response should report the session ended")
	}

	// A retried stop and a state poll inside the grace period both see
	// the ended room instead of a 404.
	var retried roomStateResponse
	resp = doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/stop", "", nil, &retried)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retried stop status = %d, want 200", resp.StatusCode)
	}
	if retried.Destination != state.Destination {
		t.Errorf("retried stop destination = %q, want %q", retried.Destination, state.Destination)
	}
	var polled roomStateResponse
	resp = doJSON(t, http.MethodGet, f.srv.URL+"/api/rooms/"+id+"/state", "", nil, &polled)
	if resp.StatusCode != http.StatusOK || !polled.State.SessionEnded {
		t.Errorf("state poll after stop = %d %+v, want the ended state", resp.StatusCode, polled.State)
	}

	// Once the grace period lapses the room slot is released.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, f.srv.URL+"/api/rooms/"+id+"/state", "", nil, nil)
		if resp.StatusCode == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room never removed after the grace period, last status = %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthenticatedStopGoesToReview(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.kv.Set(kvstore.KeyJobID, "7"); err != nil {
		t.Fatal(err)
	}
	token := signTestToken(t, "cand-1", "jane@example.com")
	id := createRoom(t, f, token)
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{}, nil)

	var state roomStateResponse
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/stop", "", nil, &state)

	if want := "/interview/review?jobOfferId=7"; state.Destination != want {
		t.Errorf("destination = %q, want %q", state.Destination, want)
	}
	if got := f.api.reports; len(got) != 1 || got[0] != "7" {
		t.Errorf("reports = %v, want [7]", got)
	}
}

func TestGuestStopCompletesGuestRecord(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.kv.Set(kvstore.KeyGuestInterviewID, "guest-42"); err != nil {
		t.Fatal(err)
	}
	id := createRoom(t, f, "")
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{}, nil)

	var state roomStateResponse
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/stop", "", nil, &state)

	if state.Destination != "/interview/guest/thank-you" {
		t.Errorf("destination = %q, want guest thank-you", state.Destination)
	}
	if got := f.api.completed; len(got) != 1 || got[0] != "guest-42" {
		t.Errorf("completed = %v, want [guest-42]", got)
	}
}

func TestCreateRoomRejectsInvalidToken(t *testing.T) {
	f := newAPIFixture(t)

	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms", "not-a-jwt", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateRoomRejectedWhileDraining(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.StartDraining()

	resp := doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms", "", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestToggleEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	id := createRoom(t, f, "")

	var state roomStateResponse
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/mute", "", nil, &state)
	if !state.State.IsMuted {
		t.Error("mute toggle should report muted")
	}

	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/camera", "", nil, &state)
	if state.State.IsCameraOff {
		t.Error("camera toggle should turn the camera on")
	}
	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/camera", "", nil, &state)
	if !state.State.IsCameraOff {
		t.Error("second camera toggle should turn it back off")
	}

	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/screenshare", "", nil, &state)
	if !state.State.IsScreenSharing {
		t.Error("screenshare toggle should report sharing")
	}
}

func TestMeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := doJSON(t, http.MethodGet, f.srv.URL+"/api/me", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated /api/me = %d, want 401", resp.StatusCode)
	}

	var me struct {
		Email string `json:"email"`
	}
	token := signTestToken(t, "cand-1", "jane@example.com")
	resp = doJSON(t, http.MethodGet, f.srv.URL+"/api/me", token, nil, &me)
	if resp.StatusCode != http.StatusOK || me.Email != "jane@example.com" {
		t.Errorf("/api/me = %d %+v", resp.StatusCode, me)
	}
}

func TestRoomWSStreamsState(t *testing.T) {
	f := newAPIFixture(t)
	id := createRoom(t, f, "")

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/rooms/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	doJSON(t, http.MethodPost, f.srv.URL+"/api/rooms/"+id+"/start", "", room.StartForm{FullName: "Jane Doe"}, nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sawConnected := false
	for !sawConnected {
		var msg struct {
			Type string            `json:"type"`
			Room roomStateResponse `json:"room"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read ws: %v", err)
		}
		if msg.Type != "state" {
			t.Fatalf("message type = %q, want state", msg.Type)
		}
		if msg.Room.State.Status == room.StatusConnected {
			sawConnected = true
		}
	}
}
