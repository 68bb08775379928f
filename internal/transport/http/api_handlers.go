package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/store"
)

const defaultSessionLimit = 100

// APIHandlers serves a read-only view of the chat state.
type APIHandlers struct {
	hub     *core.Hub
	journal store.Journal
	log     *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, journal store.Journal, logger *zerolog.Logger) *APIHandlers {
	if journal == nil {
		journal = store.Nop{}
	}
	return &APIHandlers{
		hub:     hub,
		journal: journal,
		log:     logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChannelsResponse is the LIST snapshot as JSON.
type ChannelsResponse struct {
	Channels []proto.ChannelInfo `json:"channels"`
}

// SessionsQuery holds the paging parameters of /api/sessions.
type SessionsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// SessionResponse represents a journaled session.
type SessionResponse struct {
	ID             string  `json:"id"`
	RemoteAddr     string  `json:"remote_addr"`
	Transport      string  `json:"transport"`
	Nickname       string  `json:"nickname"`
	ConnectedAt    string  `json:"connected_at"`
	DisconnectedAt *string `json:"disconnected_at,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// ActiveSessionResponse represents a connected session.
type ActiveSessionResponse struct {
	ID           string   `json:"id"`
	RemoteAddr   string   `json:"remote_addr"`
	Nickname     string   `json:"nickname"`
	State        string   `json:"state"`
	Channels     []string `json:"channels"`
	ConnectedAt  string   `json:"connected_at"`
	LastActivity string   `json:"last_activity"`
}

// ListChannels returns every channel with its member count, sorted by name.
// GET /api/channels
func (h *APIHandlers) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, ChannelsResponse{Channels: h.hub.Channels().List()})
}

// ListSessions returns journaled sessions, most recent first.
// GET /api/sessions?limit=N
func (h *APIHandlers) ListSessions(c *gin.Context) {
	var q SessionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.log.Debug().Err(err).Msg("invalid sessions query")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 1000"})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultSessionLimit
	}

	records, err := h.journal.ListSessions(c.Request.Context(), q.Limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]SessionResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, sessionFromRecord(rec))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": response})
}

// ActiveSessions returns the currently connected sessions.
// GET /api/sessions/active
func (h *APIHandlers) ActiveSessions(c *gin.Context) {
	sessions := h.hub.Sessions().List()

	response := make([]ActiveSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, activeSessionFromCore(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": response})
}
