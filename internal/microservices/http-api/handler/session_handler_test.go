package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"palmcontroller/internal/audit"
	"palmcontroller/internal/microservices/tcp"
	"palmcontroller/pkg/protocol"
)

// MockSessionService mocks the SessionService interface
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) IsRunning() bool   { return m.Called().Bool(0) }
func (m *MockSessionService) Port() int         { return m.Called().Int(0) }
func (m *MockSessionService) IPAddress() string { return m.Called().String(0) }

func (m *MockSessionService) Clients() []tcp.ClientInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]tcp.ClientInfo)
}

func (m *MockSessionService) VolumeState() tcp.VolumeState {
	return m.Called().Get(0).(tcp.VolumeState)
}

func (m *MockSessionService) SendToClient(clientID string, msg *protocol.ControlMessage) error {
	return m.Called(clientID, msg).Error(0)
}

func (m *MockSessionService) Broadcast(msg *protocol.ControlMessage) error {
	return m.Called(msg).Error(0)
}

func (m *MockSessionService) BroadcastVolumeStatus(level float64, muted bool) error {
	return m.Called(level, muted).Error(0)
}

type stubDiscovery struct{}

func (stubDiscovery) IsRunning() bool           { return true }
func (stubDiscovery) AnnouncementCount() uint64 { return 7 }
func (stubDiscovery) ProbeCount() uint64        { return 2 }

type stubEvents struct {
	events []audit.SessionEvent
	err    error
	limit  int
}

func (s *stubEvents) BatchInsert(context.Context, []*audit.SessionEvent) error { return nil }

func (s *stubEvents) Recent(_ context.Context, limit int) ([]audit.SessionEvent, error) {
	s.limit = limit
	return s.events, s.err
}

func setupRouter(h *SessionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("IsRunning").Return(true)
	sessions.On("IPAddress").Return("192.168.1.20")
	sessions.On("Port").Return(8080)
	sessions.On("Clients").Return([]tcp.ClientInfo{{ID: "a"}, {ID: "b"}})
	sessions.On("VolumeState").Return(tcp.VolumeState{Level: 0.4, Muted: true})

	r := setupRouter(NewSessionHandler(sessions, stubDiscovery{}, nil))
	w := doJSON(r, http.MethodGet, "/api/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["running"])
	assert.Equal(t, "192.168.1.20", resp["ipAddress"])
	assert.Equal(t, float64(8080), resp["port"])
	assert.Equal(t, float64(2), resp["clients"])
	assert.Equal(t, map[string]any{"level": 0.4, "muted": true}, resp["volume"])
	assert.Equal(t, float64(7), resp["discovery"].(map[string]any)["announcements"])

	sessions.AssertExpectations(t)
}

func TestListClients_Empty(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("Clients").Return(nil)

	r := setupRouter(NewSessionHandler(sessions, nil, nil))
	w := doJSON(r, http.MethodGet, "/api/clients", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"clients":[],"total":0}`, w.Body.String())
}

func TestSendToClient_Success(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("SendToClient", "c1", mock.MatchedBy(func(msg *protocol.ControlMessage) bool {
		p, ok := msg.Payload.(*protocol.MediaControl)
		return msg.ID == "m1" && msg.Type == protocol.TypeMediaControl && ok && p.Action == "play_pause"
	})).Return(nil)

	r := setupRouter(NewSessionHandler(sessions, nil, nil))
	w := doJSON(r, http.MethodPost, "/api/clients/c1/messages", map[string]any{
		"messageId": "m1",
		"type":      "media_control",
		"payload":   map[string]any{"action": "play_pause"},
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"messageId":"m1"}`, w.Body.String())
	sessions.AssertExpectations(t)
}

func TestSendToClient_GeneratesID(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("SendToClient", "c1", mock.MatchedBy(func(msg *protocol.ControlMessage) bool {
		_, raw := msg.Payload.(protocol.Raw)
		return msg.ID != "" && raw && !msg.Timestamp.IsZero()
	})).Return(nil)

	r := setupRouter(NewSessionHandler(sessions, nil, nil))
	w := doJSON(r, http.MethodPost, "/api/clients/c1/messages", map[string]any{
		"type":    "hardware_info",
		"payload": map[string]any{"data": map[string]any{"cpu": "x"}},
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	sessions.AssertExpectations(t)
}

func TestSendToClient_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown client", fmt.Errorf("%w: c1", tcp.ErrClientNotFound), http.StatusNotFound},
		{"server stopped", tcp.ErrServerNotRunning, http.StatusServiceUnavailable},
		{"write failed", errors.New("broken pipe"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(MockSessionService)
			sessions.On("SendToClient", "c1", mock.Anything).Return(tt.err)

			r := setupRouter(NewSessionHandler(sessions, nil, nil))
			w := doJSON(r, http.MethodPost, "/api/clients/c1/messages", map[string]any{"type": "heartbeat"})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSendToClient_BadRequest(t *testing.T) {
	sessions := new(MockSessionService)
	r := setupRouter(NewSessionHandler(sessions, nil, nil))

	// type is required
	w := doJSON(r, http.MethodPost, "/api/clients/c1/messages", map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// payload must be an object
	w = doJSON(r, http.MethodPost, "/api/clients/c1/messages", map[string]any{"type": "x", "payload": []int{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sessions.AssertNotCalled(t, "SendToClient", mock.Anything, mock.Anything)
}

func TestBroadcast(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("Broadcast", mock.MatchedBy(func(msg *protocol.ControlMessage) bool {
		return msg.Type == protocol.TypeSystemControl
	})).Return(nil)

	r := setupRouter(NewSessionHandler(sessions, nil, nil))
	w := doJSON(r, http.MethodPost, "/api/broadcast", map[string]any{
		"type":    "system_control",
		"payload": map[string]any{"action": "lock"},
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	sessions.AssertExpectations(t)
}

func TestSetVolume(t *testing.T) {
	sessions := new(MockSessionService)
	sessions.On("BroadcastVolumeStatus", 0.3, true).Return(nil)
	sessions.On("VolumeState").Return(tcp.VolumeState{Level: 0.3, Muted: true})

	r := setupRouter(NewSessionHandler(sessions, nil, nil))
	w := doJSON(r, http.MethodPost, "/api/volume", map[string]any{"level": 0.3, "muted": true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"level":0.3,"muted":true}`, w.Body.String())
	sessions.AssertExpectations(t)
}

func TestSetVolume_MissingLevel(t *testing.T) {
	sessions := new(MockSessionService)
	r := setupRouter(NewSessionHandler(sessions, nil, nil))

	w := doJSON(r, http.MethodPost, "/api/volume", map[string]any{"muted": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	sessions.AssertNotCalled(t, "BroadcastVolumeStatus", mock.Anything, mock.Anything)
}

func TestRecentEvents(t *testing.T) {
	events := &stubEvents{events: []audit.SessionEvent{
		{ID: 2, Kind: audit.KindMessage, ClientID: "c1", MessageType: "heartbeat", OccurredAt: time.Now()},
	}}
	r := setupRouter(NewSessionHandler(new(MockSessionService), nil, events))

	w := doJSON(r, http.MethodGet, "/api/events?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, events.limit)

	var resp struct {
		Events []audit.SessionEvent `json:"events"`
		Total  int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "c1", resp.Events[0].ClientID)

	w = doJSON(r, http.MethodGet, "/api/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	events.err = errors.New("db down")
	w = doJSON(r, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 50, events.limit)
}

func TestRecentEvents_Disabled(t *testing.T) {
	r := setupRouter(NewSessionHandler(new(MockSessionService), nil, nil))
	w := doJSON(r, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
