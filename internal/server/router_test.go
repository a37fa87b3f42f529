package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/podium/internal/auth"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
	"github.com/MarcoPoloResearchLab/podium/internal/users"
)

const testCallbackSecret = "renderer-secret"

type stubGateway struct {
	mu        sync.Mutex
	rooms     int
	sessions  int
	delivered map[string][]materials.Thumbnail
	open      map[string]bool
}

func (g *stubGateway) Handle(context.Context, protocol.Peer, protocol.Envelope) {}

func (g *stubGateway) Disconnect(string) {}

func (g *stubGateway) PushThumbnails(documentID string, thumbnails []materials.Thumbnail) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open[documentID] {
		return false, nil
	}
	if g.delivered == nil {
		g.delivered = make(map[string][]materials.Thumbnail)
	}
	g.delivered[documentID] = append(g.delivered[documentID], thumbnails...)
	return true, nil
}

func (g *stubGateway) Counts() (int, int) {
	return g.rooms, g.sessions
}

type stubIdentities struct{}

func (stubIdentities) Resolve(_ context.Context, claims auth.SessionClaims) (users.Identity, error) {
	return users.Identity{UserID: claims.UserID, DisplayName: claims.UserDisplayName}, nil
}

func newStubHandler(t *testing.T, gateway Gateway, callbackSecret string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Gateway:        gateway,
		Sessions:       validator,
		Identities:     stubIdentities{},
		CallbackSecret: callbackSecret,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingGateway {
		t.Fatalf("expected missing gateway error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Gateway: &stubGateway{}}); err != errMissingSessionValidator {
		t.Fatalf("expected missing validator error, got %v", err)
	}
}

func TestHealthReportsCounts(t *testing.T) {
	handler := newStubHandler(t, &stubGateway{rooms: 2, sessions: 1}, "")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Status   string `json:"status"`
		Rooms    int    `json:"rooms"`
		Sessions int    `json:"sessions"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ok" || body.Rooms != 2 || body.Sessions != 1 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestThumbnailCallbackDisabledWithoutSecret(t *testing.T) {
	handler := newStubHandler(t, &stubGateway{}, "")

	request := httptest.NewRequest(http.MethodPost, "/internal/materials/deck-1/thumbnails", strings.NewReader(`{"slides":[]}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when callback is disabled, got %d", recorder.Code)
	}
}

func TestThumbnailCallback(t *testing.T) {
	gateway := &stubGateway{open: map[string]bool{"deck-1": true}}
	handler := newStubHandler(t, gateway, testCallbackSecret)

	cases := []struct {
		name       string
		documentID string
		secret     string
		body       string
		status     int
		delivered  bool
	}{
		{"missing secret", "deck-1", "", `{"slides":[{"slideId":"s1","url":"u"}]}`, http.StatusUnauthorized, false},
		{"wrong secret", "deck-1", "nope", `{"slides":[{"slideId":"s1","url":"u"}]}`, http.StatusUnauthorized, false},
		{"malformed body", "deck-1", testCallbackSecret, `{"slides":`, http.StatusBadRequest, false},
		{"empty slides", "deck-1", testCallbackSecret, `{"slides":[]}`, http.StatusBadRequest, false},
		{"closed room", "deck-2", testCallbackSecret, `{"slides":[{"slideId":"s1","url":"u"}]}`, http.StatusOK, false},
		{"open room", "deck-1", testCallbackSecret, `{"slides":[{"slideId":"s1","url":"https://cdn/s1.png"}]}`, http.StatusOK, true},
	}

	for _, tc := range cases {
		request := httptest.NewRequest(http.MethodPost, "/internal/materials/"+tc.documentID+"/thumbnails", strings.NewReader(tc.body))
		request.Header.Set("Content-Type", "application/json")
		if tc.secret != "" {
			request.Header.Set(CallbackSecretHeader, tc.secret)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)

		if recorder.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d (%s)", tc.name, tc.status, recorder.Code, recorder.Body.String())
		}
		if tc.status != http.StatusOK {
			continue
		}
		var body struct {
			Delivered bool `json:"delivered"`
		}
		if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: failed to decode body: %v", tc.name, err)
		}
		if body.Delivered != tc.delivered {
			t.Fatalf("%s: expected delivered=%v, got %v", tc.name, tc.delivered, body.Delivered)
		}
	}

	delivered := gateway.delivered["deck-1"]
	if len(delivered) != 1 || delivered[0].URL != "https://cdn/s1.png" {
		t.Fatalf("expected one delivered thumbnail, got %+v", delivered)
	}
}
