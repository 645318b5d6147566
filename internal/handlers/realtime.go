package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/taskflowhq/taskflow/internal/auth"
	"github.com/taskflowhq/taskflow/internal/realtime"
	"github.com/taskflowhq/taskflow/pkg/errors"
	"github.com/taskflowhq/taskflow/pkg/response"
)

// RealtimeHandler upgrades HTTP requests into authenticated live sessions.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler backed by the session hub.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Connect serves GET /ws/:user_id?token=… . The bearer credential rides in
// the query string because browsers cannot set headers on websocket
// handshakes; subject verification against :user_id happens inside the hub
// after the upgrade so rejections arrive as policy-violation close frames.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, errors.ErrBadRequest)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}

	h.hub.Serve(userID, token, c.Writer, c.Request)
}

// ValidatorFor adapts the JWT service into the hub's Authenticator: the
// token's embedded subject is returned for comparison with the claimed user.
func ValidatorFor(jwt *iauth.JWTService) realtime.Authenticator {
	return realtime.AuthenticatorFunc(func(token string) (string, error) {
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	})
}
