package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/paydesk/finchat/internal/domain"
)

// login exchanges credentials for a bearer token.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	u, token, err := s.auth.Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"actorId":     u.ID,
		"role":        u.Role,
		"displayName": u.DisplayName,
	})
}

// conversations returns the admin roster.
func (s *Server) conversations(c *gin.Context) {
	if actorRole(c) != domain.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return
	}

	entries, err := s.store.Roster()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load roster")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	if entries == nil {
		entries = []domain.RosterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": entries})
}

// history returns a conversation's message list, oldest first.
func (s *Server) history(c *gin.Context) {
	conversationID := c.Param("id")
	if !s.canAccess(c, conversationID) {
		return
	}

	msgs, err := s.store.History(conversationID)
	if err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// sendMessage durably persists a message and returns the confirmed record.
// Repeats with the same local id are idempotent; only the first persists
// and triggers the broadcast.
func (s *Server) sendMessage(c *gin.Context) {
	conversationID := c.Param("id")
	if !s.canAccess(c, conversationID) {
		return
	}

	var req struct {
		Body    string `json:"body" binding:"required"`
		LocalID string `json:"localId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is required"})
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is required"})
		return
	}

	m, created, err := s.store.AppendMessage(conversationID, actorRole(c), body, req.LocalID)
	if err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("failed to persist message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	if created {
		s.hub.BroadcastMessage(m)
	}

	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// markRead marks the conversation's peer messages read and acknowledges
// the authors over the socket.
func (s *Server) markRead(c *gin.Context) {
	conversationID := c.Param("id")
	if !s.canAccess(c, conversationID) {
		return
	}

	reader := actorRole(c)
	ids, err := s.store.MarkRead(conversationID, reader)
	if err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("failed to mark read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	s.hub.BroadcastRead(conversationID, ids, reader)

	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": ids})
}

// serveWS upgrades an authenticated request and registers the connection
// with the hub.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := newClient(s.hub, conn, actorID(c), actorRole(c), s.log)
	s.hub.register(cl)

	go cl.writePump()
	go cl.readPump()
}

// canAccess enforces conversation ownership: customers may only touch
// their own conversation, admins may touch any.
func (s *Server) canAccess(c *gin.Context, conversationID string) bool {
	if actorRole(c) == domain.RoleAdmin {
		return true
	}
	if actorID(c) == conversationID {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	return false
}

func actorID(c *gin.Context) string {
	return c.GetString("actorID")
}

func actorRole(c *gin.Context) domain.Role {
	if v, ok := c.Get("role"); ok {
		if r, ok := v.(domain.Role); ok {
			return r
		}
	}
	return ""
}

// upgraderFor builds the websocket upgrader with the configured origin
// allowlist. An empty list allows any origin (development mode).
func upgraderFor(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}
