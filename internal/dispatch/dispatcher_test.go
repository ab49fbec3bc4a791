package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palmcontroller/internal/middleware/auth"
	"palmcontroller/pkg/protocol"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type sentMessage struct {
	clientID string
	msg      *protocol.ControlMessage
}

type volumeBroadcast struct {
	level float64
	muted bool
}

// fakeSender records everything the dispatcher pushes back.
type fakeSender struct {
	mu         sync.Mutex
	sent       []sentMessage
	broadcasts []*protocol.ControlMessage
	volumes    []volumeBroadcast
	current    []string
	sendErr    error
}

func (f *fakeSender) SendToClient(id string, msg *protocol.ControlMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{id, msg})
	return f.sendErr
}

func (f *fakeSender) Broadcast(msg *protocol.ControlMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, msg)
	return nil
}

func (f *fakeSender) BroadcastVolumeStatus(level float64, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, volumeBroadcast{level, muted})
	return nil
}

func (f *fakeSender) SendCurrentVolumeStatus(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = append(f.current, id)
	return f.sendErr
}

func (f *fakeSender) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func TestDispatcher_RoutesByType(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, quietLogger)

	var got []string
	d.Handle(protocol.TypeMouseControl, CapabilityFunc(func(_ context.Context, id string, msg *protocol.ControlMessage) error {
		got = append(got, id+":"+msg.ID)
		return nil
	}))

	d.OnMessageReceived("c1", protocol.NewMouseControl("m1", "move", 1, 1, "", 0))
	d.OnMessageReceived("c1", protocol.NewKeyboardControl("k1", "key_press", "A", "", nil)) // no route
	d.OnMessageReceived("c1", protocol.NewHeartbeat("h1"))
	d.OnMessageReceived("c1", protocol.NewMessage("x", protocol.MessageType("future"), protocol.Raw{}))

	assert.Equal(t, []string{"c1:m1"}, got)
	assert.Empty(t, sender.sent)
}

func TestDispatcher_CapabilityErrorIsContained(t *testing.T) {
	d := New(&fakeSender{}, quietLogger)
	calls := 0
	d.Handle(protocol.TypeSystemControl, CapabilityFunc(func(ctx context.Context, _ string, _ *protocol.ControlMessage) error {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return errors.New("boom")
	}))

	assert.NotPanics(t, func() {
		d.OnMessageReceived("c", protocol.NewSystemControl("1", "lock"))
		d.OnMessageReceived("c", protocol.NewSystemControl("2", "lock"))
	})
	assert.Equal(t, 2, calls)
}

func TestDispatcher_SendsVolumeOnConnect(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, quietLogger)

	d.OnClientConnected("c1")
	assert.Equal(t, []string{"c1"}, sender.current)

	sender.sendErr = errors.New("gone")
	assert.NotPanics(t, func() { d.OnClientConnected("c2") })
}

func TestDispatcher_PairingGate(t *testing.T) {
	hash, err := auth.HashPassword("1234")
	require.NoError(t, err)

	sender := &fakeSender{}
	tokens := auth.NewTokenService("secret", time.Hour)
	d := New(sender, quietLogger)
	d.UsePairing(NewPairingAuth(hash, tokens, sender, quietLogger))

	handled := 0
	d.Handle(protocol.TypeMediaControl, CapabilityFunc(func(context.Context, string, *protocol.ControlMessage) error {
		handled++
		return nil
	}))

	// not paired yet
	d.OnMessageReceived("c1", protocol.NewMediaControl("m1", "next"))
	assert.Zero(t, handled)
	reply := sender.lastSent(t)
	assert.Equal(t, protocol.TypeAuthResult, reply.msg.Type)
	assert.False(t, reply.msg.Payload.(*protocol.AuthResult).Success)

	// heartbeats pass the gate
	d.OnMessageReceived("c1", protocol.NewHeartbeat("h1"))
	assert.Len(t, sender.sent, 1)

	// wrong password
	d.OnMessageReceived("c1", protocol.NewAuth("a1", "0000"))
	reply = sender.lastSent(t)
	assert.Equal(t, "a1", reply.msg.ID)
	assert.Equal(t, &protocol.AuthResult{Success: false, Message: "invalid password"}, reply.msg.Payload)

	// right password
	d.OnMessageReceived("c1", protocol.NewAuth("a2", "1234"))
	reply = sender.lastSent(t)
	result := reply.msg.Payload.(*protocol.AuthResult)
	require.True(t, result.Success)
	claims, err := tokens.Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.ClientID)
	assert.Equal(t, auth.ScopeController, claims.Scope)

	d.OnMessageReceived("c1", protocol.NewMediaControl("m2", "next"))
	assert.Equal(t, 1, handled)

	// pairing is per connection
	d.OnClientDisconnected("c1")
	d.OnMessageReceived("c1", protocol.NewMediaControl("m3", "next"))
	assert.Equal(t, 1, handled)
}

func TestPairingAuth_NoPasswordTrustsEveryone(t *testing.T) {
	sender := &fakeSender{}
	p := NewPairingAuth("", nil, sender, quietLogger)

	assert.False(t, p.Required())
	assert.True(t, p.Authenticated("anyone"))

	require.NoError(t, p.Handle(context.Background(), "c", protocol.NewAuth("a", "")))
	assert.Equal(t, &protocol.AuthResult{Success: true}, sender.lastSent(t).msg.Payload)
}

func TestPairingAuth_RawPayload(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	sender := &fakeSender{}
	p := NewPairingAuth(hash, nil, sender, quietLogger)

	msg := protocol.NewMessage("a", protocol.TypeAuth, protocol.Raw{"password": "pw", "device": "phone"})
	require.NoError(t, p.Handle(context.Background(), "c", msg))
	assert.True(t, p.Authenticated("c"))
}
