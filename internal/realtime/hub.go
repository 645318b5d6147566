package realtime

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/pkg/logger"
)

// Authenticator validates a bearer credential and returns its subject.
type Authenticator interface {
	Validate(token string) (userID string, err error)
}

// AuthenticatorFunc adapts a plain function to the Authenticator interface.
type AuthenticatorFunc func(token string) (string, error)

// Validate implements Authenticator.
func (f AuthenticatorFunc) Validate(token string) (string, error) { return f(token) }

// Hub owns the session lifecycle for live connections: transport handshake,
// credential check, registration, control-frame pumping, and teardown. The
// registry and broadcaster are injected at construction; there is no hidden
// global state.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	auth        Authenticator

	upgrader   websocket.Upgrader
	sendBuffer int
	now        func() time.Time
	log        *zap.Logger
}

// HubOption customises hub behaviour.
type HubOption func(*Hub)

// WithSendBuffer overrides the per-connection outbound queue length.
func WithSendBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

// WithClock overrides the hub clock, primarily for testing.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub constructs a session hub.
func NewHub(registry *Registry, broadcaster *Broadcaster, auth Authenticator, opts ...HubOption) *Hub {
	h := &Hub{
		registry:    registry,
		broadcaster: broadcaster,
		auth:        auth,
		sendBuffer:  defaultSendBuffer,
		now:         time.Now,
		log:         logger.WithModule("realtime.hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the HTTP request to a websocket and runs the session to
// completion. The credential is checked after the handshake so a rejection
// reaches the client as a policy-violation close frame; an invalid or
// mismatched token never registers anything.
func (h *Hub) Serve(claimedUserID, token string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	subject, err := h.authenticate(token)
	if err != nil || subject != claimedUserID {
		h.log.Warn("closing unauthenticated session",
			zap.String("claimed_user_id", claimedUserID),
			zap.Error(err),
		)
		closePolicyViolation(socket)
		return
	}

	client := newConnection(h, socket, claimedUserID, h.sendBuffer)
	h.registry.Register(r.Context(), claimedUserID, client)
	client.enqueueEnvelope(NewConnectionEstablished(claimedUserID, h.now()))

	go client.writeLoop()
	client.readLoop()
}

func (h *Hub) authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return h.auth.Validate(token)
}

var errMissingToken = &tokenError{"missing token"}

type tokenError struct{ msg string }

func (e *tokenError) Error() string { return e.msg }

func closePolicyViolation(socket *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid credentials")
	_ = socket.WriteControl(websocket.CloseMessage, message, deadline)
	_ = socket.Close()
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
