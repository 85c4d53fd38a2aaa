package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/betairc-server/internal/core"
)

// Handlers serves read-only views over the registries.
type Handlers struct {
	users    *core.UserRegistry
	channels *core.ChannelRegistry
	log      *zerolog.Logger
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	Name    string `json:"name"`
	Topic   string `json:"topic,omitempty"`
	Members int    `json:"members"`
}

// UserResponse represents a connected user in API responses.
type UserResponse struct {
	Nickname    string   `json:"nickname"`
	IsAdmin     bool     `json:"is_admin"`
	Channels    []string `json:"channels"`
	ConnectedAt string   `json:"connected_at"`
}

// ErrorResponse is the API error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
// GET /healthz
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "users": h.users.Count()})
}

// ListChannels returns a snapshot of all channels.
// GET /api/channels
func (h *Handlers) ListChannels(c *gin.Context) {
	infos := h.channels.ListChannels()
	out := make([]ChannelResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, ChannelResponse{Name: info.Name, Topic: info.Topic, Members: info.Members})
	}
	c.JSON(stdhttp.StatusOK, gin.H{"channels": out})
}

// ListMembers returns the member nicknames of one channel. The leading '#'
// may be omitted in the path segment.
// GET /api/channels/:name/members
func (h *Handlers) ListMembers(c *gin.Context) {
	name := core.Normalize(c.Param("name"))
	members, err := h.channels.ListMembers(name)
	if err != nil {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"channel": name, "members": members})
}

// ListUsers returns a snapshot of connected users.
// GET /api/users
func (h *Handlers) ListUsers(c *gin.Context) {
	infos := h.users.Snapshot()
	out := make([]UserResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, UserResponse{
			Nickname:    info.Nick,
			IsAdmin:     info.IsAdmin,
			Channels:    info.Channels,
			ConnectedAt: info.ConnectedAt.Format(time.RFC3339),
		})
	}
	c.JSON(stdhttp.StatusOK, gin.H{"users": out})
}
