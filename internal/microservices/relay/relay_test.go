package relay

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palmcontroller/internal/microservices/tcp"
	"palmcontroller/pkg/protocol"
)

type delivery struct {
	clientID string
	msg      *protocol.ControlMessage
}

type fakeTarget struct {
	mu         sync.Mutex
	sent       []delivery
	broadcasts []*protocol.ControlMessage
	volumes    []tcp.VolumeState
	delivered  chan struct{}
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{delivered: make(chan struct{}, 16)}
}

func (f *fakeTarget) SendToClient(id string, msg *protocol.ControlMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, delivery{id, msg})
	f.mu.Unlock()
	f.delivered <- struct{}{}
	if id == "missing" {
		return tcp.ErrClientNotFound
	}
	return nil
}

func (f *fakeTarget) Broadcast(msg *protocol.ControlMessage) error {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, msg)
	f.mu.Unlock()
	f.delivered <- struct{}{}
	return nil
}

func (f *fakeTarget) BroadcastVolumeStatus(level float64, muted bool) error {
	f.mu.Lock()
	f.volumes = append(f.volumes, tcp.VolumeState{Level: level, Muted: muted})
	f.mu.Unlock()
	f.delivered <- struct{}{}
	return nil
}

func TestDeliver_Targeted(t *testing.T) {
	target := newFakeTarget()
	s := NewSubscriber(nil, "", target, nil)

	data, err := NewEnvelope("client-1", protocol.NewHardwareInfo("hw", map[string]any{"cpu": "x"}))
	require.NoError(t, err)
	require.NoError(t, s.Deliver(data))

	require.Len(t, target.sent, 1)
	assert.Equal(t, "client-1", target.sent[0].clientID)
	assert.Equal(t, protocol.TypeHardwareInfo, target.sent[0].msg.Type)
	assert.Empty(t, target.broadcasts)
}

func TestDeliver_BroadcastWhenUntargeted(t *testing.T) {
	target := newFakeTarget()
	s := NewSubscriber(nil, "", target, nil)

	data, err := NewEnvelope("", protocol.NewSystemControl("s", "lock"))
	require.NoError(t, err)
	require.NoError(t, s.Deliver(data))

	require.Len(t, target.broadcasts, 1)
	assert.Equal(t, "s", target.broadcasts[0].ID)
}

func TestDeliver_VolumeStatusUpdatesCache(t *testing.T) {
	target := newFakeTarget()
	s := NewSubscriber(nil, "", target, nil)

	data, err := NewEnvelope("", protocol.NewVolumeStatus("v", 0.8, true))
	require.NoError(t, err)
	require.NoError(t, s.Deliver(data))

	assert.Equal(t, []tcp.VolumeState{{Level: 0.8, Muted: true}}, target.volumes)
	assert.Empty(t, target.broadcasts)
}

func TestDeliver_Errors(t *testing.T) {
	target := newFakeTarget()
	s := NewSubscriber(nil, "", target, nil)

	assert.Error(t, s.Deliver([]byte("nope")))
	assert.True(t, errors.Is(s.Deliver([]byte(`{"clientId":"x"}`)), ErrEmptyEnvelope))
	assert.True(t, errors.Is(s.Deliver([]byte(`{"message":{"type":"heartbeat"}}`)), protocol.ErrMalformedMessage))

	data, err := NewEnvelope("missing", protocol.NewHeartbeat("h"))
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Deliver(data), tcp.ErrClientNotFound))
}

func TestVolumeRedisRepo_NilClientIsNoop(t *testing.T) {
	var repo *VolumeRedisRepo
	assert.NoError(t, repo.SaveVolume(context.Background(), tcp.VolumeState{Level: 1}))
	_, found, err := repo.LoadVolume(context.Background())
	assert.NoError(t, err)
	assert.False(t, found)
}

// redisForTest connects to REDIS_TEST_ADDR (default localhost:6379) or skips.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := NewRedisClient(context.Background(), addr, "")
	if err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestVolumeRedisRepo_RoundTrip(t *testing.T) {
	client := redisForTest(t)
	key := "palm:volume:test:" + protocol.NewID()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	repo := NewVolumeRedisRepo(client, key)
	ctx := context.Background()

	_, found, err := repo.LoadVolume(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SaveVolume(ctx, tcp.VolumeState{Level: 0.35, Muted: true}))
	state, found, err := repo.LoadVolume(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, tcp.VolumeState{Level: 0.35, Muted: true}, state)
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	client := redisForTest(t)
	channel := "palm:notify:test:" + protocol.NewID()

	target := newFakeTarget()
	sub := NewSubscriber(client, channel, target, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	pub := NewPublisher(client, channel)
	require.Eventually(t, func() bool {
		n, err := pub.Publish(ctx, "client-9", protocol.NewMediaControl("m", "next"))
		return err == nil && n > 0
	}, 2*time.Second, 50*time.Millisecond)

	select {
	case <-target.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("published envelope was not delivered")
	}
	target.mu.Lock()
	assert.Equal(t, "client-9", target.sent[0].clientID)
	target.mu.Unlock()

	cancel()
	assert.NoError(t, <-done)
}
