package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"palmcontroller/internal/audit"
	"palmcontroller/internal/microservices/http-api/dto"
	"palmcontroller/internal/microservices/tcp"
	"palmcontroller/pkg/protocol"
)

// SessionService is the part of the session manager the admin API drives.
type SessionService interface {
	IsRunning() bool
	Port() int
	IPAddress() string
	Clients() []tcp.ClientInfo
	VolumeState() tcp.VolumeState
	SendToClient(clientID string, msg *protocol.ControlMessage) error
	Broadcast(msg *protocol.ControlMessage) error
	BroadcastVolumeStatus(level float64, muted bool) error
}

// DiscoveryService reports on the presence broadcaster.
type DiscoveryService interface {
	IsRunning() bool
	AnnouncementCount() uint64
	ProbeCount() uint64
}

type SessionHandler struct {
	sessions  SessionService
	discovery DiscoveryService // nil when discovery is disabled
	events    audit.Repository // nil when auditing is disabled
}

func NewSessionHandler(sessions SessionService, discovery DiscoveryService, events audit.Repository) *SessionHandler {
	return &SessionHandler{sessions: sessions, discovery: discovery, events: events}
}

func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.GET("/clients", h.ListClients)
	rg.POST("/clients/:id/messages", h.SendToClient)
	rg.POST("/broadcast", h.Broadcast)
	rg.POST("/volume", h.SetVolume)
	rg.GET("/events", h.RecentEvents)
}

// Status reports the session manager and discovery state
func (h *SessionHandler) Status(c *gin.Context) {
	resp := dto.StatusResponse{
		Running:   h.sessions.IsRunning(),
		IPAddress: h.sessions.IPAddress(),
		Port:      h.sessions.Port(),
		Clients:   len(h.sessions.Clients()),
		Volume:    h.sessions.VolumeState(),
	}
	if h.discovery != nil {
		resp.Discovery = &dto.DiscoveryStatus{
			Running:       h.discovery.IsRunning(),
			Announcements: h.discovery.AnnouncementCount(),
			Probes:        h.discovery.ProbeCount(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) ListClients(c *gin.Context) {
	clients := h.sessions.Clients()
	if clients == nil {
		clients = []tcp.ClientInfo{}
	}
	c.JSON(http.StatusOK, dto.ClientListResponse{Clients: clients, Total: len(clients)})
}

// SendToClient pushes one message to the client named in the path
func (h *SessionHandler) SendToClient(c *gin.Context) {
	msg, ok := bindMessage(c)
	if !ok {
		return
	}

	if err := h.sessions.SendToClient(c.Param("id"), msg); err != nil {
		writeSendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.ID})
}

func (h *SessionHandler) Broadcast(c *gin.Context) {
	msg, ok := bindMessage(c)
	if !ok {
		return
	}

	if err := h.sessions.Broadcast(msg); err != nil {
		writeSendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.ID})
}

// SetVolume updates the cached volume and broadcasts it
func (h *SessionHandler) SetVolume(c *gin.Context) {
	var req dto.VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.BroadcastVolumeStatus(*req.Level, req.Muted); err != nil {
		writeSendError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessions.VolumeState())
}

// RecentEvents lists the newest audit rows, ?limit= defaults to 50
func (h *SessionHandler) RecentEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session audit is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	events, err := h.events.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []audit.SessionEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

func bindMessage(c *gin.Context) (*protocol.ControlMessage, bool) {
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	msg, err := req.ToMessage()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return msg, true
}

func writeSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tcp.ErrClientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tcp.ErrServerNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
