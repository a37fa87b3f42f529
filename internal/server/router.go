// Package server exposes the realtime gateway over HTTP: the websocket
// endpoint, a health check and the renderer push-back callback.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/auth"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/protocol"
	"github.com/MarcoPoloResearchLab/podium/internal/users"
)

// CallbackSecretHeader carries the shared secret on renderer callbacks.
const CallbackSecretHeader = "X-Podium-Callback-Secret"

const (
	defaultMessagesPerSecond = 60
	defaultMessageBurst      = 120
	defaultSendBuffer        = 256
)

var (
	errMissingGateway          = errors.New("gateway dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
)

// Gateway is the realtime core the transport feeds.
type Gateway interface {
	Handle(ctx context.Context, peer protocol.Peer, envelope protocol.Envelope)
	Disconnect(connectionID string)
	PushThumbnails(documentID string, thumbnails []materials.Thumbnail) (bool, error)
	Counts() (rooms int, sessions int)
}

// SessionValidator extracts and validates session tokens.
type SessionValidator interface {
	TokenFromRequest(r *http.Request) (string, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims onto a canonical identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.Identity, error)
}

// Limits bounds per-connection traffic.
type Limits struct {
	MessagesPerSecond float64
	Burst             int
	SendBuffer        int
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Gateway    Gateway
	Sessions   SessionValidator
	Identities IdentityResolver
	Logger     *zap.Logger
	Limits     Limits
	// CallbackSecret enables the renderer callback route when non-empty.
	CallbackSecret string
	// AllowedOrigins lists the browser origins besides the serving host that
	// may open credentialed requests and websocket connections.
	AllowedOrigins []string
}

// Handler serves the realtime API and tracks the websocket connections it
// has upgraded.
type Handler struct {
	engine *gin.Engine
	http   *httpHandler
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// CloseConnections refuses further upgrades, closes every open websocket
// with a going-away frame and waits until each has been disconnected from
// the gateway.
func (h *Handler) CloseConnections(ctx context.Context) error {
	return h.http.closeConnections(ctx)
}

// NewHTTPHandler builds the gin engine serving the realtime API.
func NewHTTPHandler(deps Dependencies) (*Handler, error) {
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limits := deps.Limits
	if limits.MessagesPerSecond <= 0 {
		limits.MessagesPerSecond = defaultMessagesPerSecond
	}
	if limits.Burst <= 0 {
		limits.Burst = defaultMessageBurst
	}
	if limits.SendBuffer <= 0 {
		limits.SendBuffer = defaultSendBuffer
	}

	origins := newOriginPolicy(deps.AllowedOrigins)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		gateway:        deps.Gateway,
		sessions:       deps.Sessions,
		identities:     deps.Identities,
		logger:         logger,
		limits:         limits,
		callbackSecret: deps.CallbackSecret,
		origins:        origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.allowsHandshake,
		},
		live: make(map[*connection]struct{}),
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)
	if strings.TrimSpace(deps.CallbackSecret) != "" {
		router.POST("/internal/materials/:documentId/thumbnails", handler.handleThumbnails)
	}

	return &Handler{engine: router, http: handler}, nil
}

func corsMiddleware(origins originPolicy) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  origins.allows,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", CallbackSecretHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	gateway        Gateway
	sessions       SessionValidator
	identities     IdentityResolver
	logger         *zap.Logger
	limits         Limits
	callbackSecret string
	origins        originPolicy
	upgrader       websocket.Upgrader

	liveMu   sync.Mutex
	live     map[*connection]struct{}
	draining bool
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	rooms, sessions := h.gateway.Counts()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms, "sessions": sessions})
}

type thumbnailsRequestPayload struct {
	Slides []materials.Thumbnail `json:"slides"`
}

func (h *httpHandler) handleThumbnails(c *gin.Context) {
	provided := c.GetHeader(CallbackSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.callbackSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	documentID, err := materials.ValidateID(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	var request thumbnailsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Slides) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	delivered, err := h.gateway.PushThumbnails(documentID, request.Slides)
	if err != nil {
		h.logger.Error("failed to deliver thumbnails", zap.String("document_id", documentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// authenticate resolves the principal behind a handshake. A request without
// a token is anonymous.
func (h *httpHandler) authenticate(r *http.Request) (protocol.Principal, int, error) {
	token, err := h.sessions.TokenFromRequest(r)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		return protocol.Principal{}, http.StatusOK, nil
	}
	if err != nil {
		return protocol.Principal{}, http.StatusUnauthorized, err
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		return protocol.Principal{}, http.StatusUnauthorized, err
	}
	identity, err := h.identities.Resolve(r.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			return protocol.Principal{}, http.StatusUnauthorized, err
		}
		return protocol.Principal{}, http.StatusInternalServerError, err
	}
	return protocol.Principal{UserID: identity.UserID, DisplayName: identity.PresenceName()}, http.StatusOK, nil
}
