package tcp

import (
	"context"
	"sync"
	"time"

	"palmcontroller/pkg/protocol"
)

// VolumeState is the last volume level the host reported.
type VolumeState struct {
	Level float64 `json:"level"` // 0..1
	Muted bool    `json:"muted"`
}

// DefaultVolume is reported until something sets the real level.
var DefaultVolume = VolumeState{Level: 0.5}

// VolumeRepository persists the volume cache across restarts.
type VolumeRepository interface {
	SaveVolume(ctx context.Context, state VolumeState) error
	// LoadVolume returns found=false when nothing was stored yet.
	LoadVolume(ctx context.Context) (state VolumeState, found bool, err error)
}

const volumeSaveTimeout = 3 * time.Second

type volumeCache struct {
	mu    sync.RWMutex
	state VolumeState
}

func newVolumeCache() volumeCache {
	return volumeCache{state: DefaultVolume}
}

func (v *volumeCache) get() VolumeState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *volumeCache) set(state VolumeState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

func clampVolume(level float64) float64 {
	return max(0, min(1, level))
}

// VolumeState returns the cached volume.
func (s *TCPServer) VolumeState() VolumeState {
	return s.volume.get()
}

// LoadVolumeState seeds the cache from the repository, if one is configured.
func (s *TCPServer) LoadVolumeState(ctx context.Context) error {
	if s.opts.VolumeRepo == nil {
		return nil
	}
	state, found, err := s.opts.VolumeRepo.LoadVolume(ctx)
	if err != nil {
		return err
	}
	if found {
		state.Level = clampVolume(state.Level)
		s.volume.set(state)
		s.logger.Info("volume_state_loaded", "level", state.Level, "muted", state.Muted)
	}
	return nil
}

// BroadcastVolumeStatus updates the cache and pushes a volume_status message
// to every connected client.
func (s *TCPServer) BroadcastVolumeStatus(level float64, muted bool) error {
	state := VolumeState{Level: clampVolume(level), Muted: muted}
	s.volume.set(state)
	s.persistVolume(state)
	return s.Broadcast(protocol.NewVolumeStatus(protocol.NewID(), state.Level, state.Muted))
}

// SendCurrentVolumeStatus sends the cached volume to one client.
func (s *TCPServer) SendCurrentVolumeStatus(clientID string) error {
	state := s.volume.get()
	return s.SendToClient(clientID, protocol.NewVolumeStatus(protocol.NewID(), state.Level, state.Muted))
}

// persistVolume saves in the background, a slow store must not delay the
// broadcast.
func (s *TCPServer) persistVolume(state VolumeState) {
	repo := s.opts.VolumeRepo
	if repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), volumeSaveTimeout)
		defer cancel()
		if err := repo.SaveVolume(ctx, state); err != nil {
			s.logger.Warn("volume_save_failed", "error", err)
		}
	}()
}
