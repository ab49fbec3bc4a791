package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"palmcontroller/internal/microservices/tcp"
	"palmcontroller/pkg/protocol"
)

// VolumeController drives the host's output volume. Levels are 0..1.
type VolumeController interface {
	Volume(ctx context.Context) (level float64, muted bool, err error)
	SetVolume(ctx context.Context, level float64) error
	SetMuted(ctx context.Context, muted bool) error
}

const (
	ActionVolumeUp        = "volume_up"
	ActionVolumeDown      = "volume_down"
	ActionMute            = "mute"
	ActionGetVolumeStatus = "get_volume_status"
	ActionSetVolumePrefix = "set_volume:"

	DefaultVolumeStep = 0.02
)

var ErrInvalidVolume = errors.New("invalid volume value")

// VolumeCache is the session manager's record of the last broadcast volume.
type VolumeCache interface {
	VolumeState() tcp.VolumeState
}

// VolumeCapability handles the volume actions of media_control messages and
// broadcasts the resulting state. Any other media action goes to Next.
//
// With a Controller the host mixer is changed and read back. Without one the
// session manager's cache is the volume: the broadcast is the only effect.
type VolumeCapability struct {
	Controller VolumeController // optional mixer binding
	Cache      VolumeCache
	Sender     Sender
	Next       Capability // optional handler for play/pause, tracks, ...
	Step       float64
	Logger     *slog.Logger
}

func (v *VolumeCapability) Handle(ctx context.Context, clientID string, msg *protocol.ControlMessage) error {
	action := mediaAction(msg)
	if !isVolumeAction(action) {
		if v.Next != nil {
			return v.Next.Handle(ctx, clientID, msg)
		}
		v.logger().Debug("media_action_unsupported", "client_id", clientID, "action", action)
		return nil
	}

	level, muted, err := v.current(ctx)
	if err != nil {
		return fmt.Errorf("read volume: %w", err)
	}
	wantLevel, wantMuted := level, muted

	switch {
	case action == ActionVolumeUp:
		wantLevel = clamp(level + v.step())
	case action == ActionVolumeDown:
		wantLevel = clamp(level - v.step())
	case action == ActionMute:
		wantMuted = !muted
	case strings.HasPrefix(action, ActionSetVolumePrefix):
		raw := strings.TrimPrefix(action, ActionSetVolumePrefix)
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidVolume, raw)
		}
		wantLevel = clamp(parsed)
	}
	// get_volume_status changes nothing and only reports

	if v.Controller != nil {
		if wantLevel != level {
			if err := v.Controller.SetVolume(ctx, wantLevel); err != nil {
				return fmt.Errorf("set volume: %w", err)
			}
		}
		if wantMuted != muted {
			if err := v.Controller.SetMuted(ctx, wantMuted); err != nil {
				return fmt.Errorf("toggle mute: %w", err)
			}
		}
		// report what the mixer actually applied
		if wantLevel, wantMuted, err = v.Controller.Volume(ctx); err != nil {
			return fmt.Errorf("read volume: %w", err)
		}
	}

	return v.Sender.BroadcastVolumeStatus(wantLevel, wantMuted)
}

func (v *VolumeCapability) current(ctx context.Context) (float64, bool, error) {
	if v.Controller != nil {
		return v.Controller.Volume(ctx)
	}
	if v.Cache == nil {
		return 0, false, errors.New("no volume controller or cache configured")
	}
	state := v.Cache.VolumeState()
	return state.Level, state.Muted, nil
}

func (v *VolumeCapability) step() float64 {
	if v.Step > 0 {
		return v.Step
	}
	return DefaultVolumeStep
}

func (v *VolumeCapability) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func isVolumeAction(action string) bool {
	switch action {
	case ActionVolumeUp, ActionVolumeDown, ActionMute, ActionGetVolumeStatus:
		return true
	}
	return strings.HasPrefix(action, ActionSetVolumePrefix)
}

func mediaAction(msg *protocol.ControlMessage) string {
	switch p := msg.Payload.(type) {
	case *protocol.MediaControl:
		return p.Action
	case protocol.Raw:
		return p.String("action")
	}
	return ""
}

func clamp(level float64) float64 {
	return max(0, min(1, level))
}
