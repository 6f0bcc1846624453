package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dinodia/dinodia-core/internal/device"
	"github.com/dinodia/dinodia-core/internal/gateway"
)

var (
	// ErrUnsupportedCommand indicates a command the dispatcher does not
	// recognise.
	ErrUnsupportedCommand = errors.New("command: unsupported command")

	// ErrValueRequired indicates a command needing a numeric value was
	// sent without one.
	ErrValueRequired = errors.New("command: numeric value required")

	// ErrDomainMismatch indicates the command does not apply to the
	// entity's domain.
	ErrDomainMismatch = errors.New("command: entity domain does not support this command")
)

// Gateway is the subset of the gateway client the dispatcher needs.
type Gateway interface {
	GetState(ctx context.Context, target gateway.Target, entityID string) (*gateway.EntityState, error)
	CallService(ctx context.Context, target gateway.Target, domain, service string, payload map[string]any) error
}

// Recorder receives the outcome and duration of every dispatched
// command. Satisfied by telemetry.Recorder.
type Recorder interface {
	RecordCommand(cmd string, duration time.Duration, cmdErr error)
}

// Dispatcher sends dashboard commands to the automation server.
type Dispatcher struct {
	gw       Gateway
	recorder Recorder
}

// New creates a command dispatcher over the given gateway.
func New(gw Gateway) *Dispatcher {
	return &Dispatcher{gw: gw}
}

// SetRecorder attaches a command telemetry recorder.
func (d *Dispatcher) SetRecorder(rec Recorder) {
	d.recorder = rec
}

// Send executes one command against an entity. Commands that depend on
// the current state (toggles, temperature steps) read it from the server
// first. Value is required for light/set_brightness and media/volume_set
// and ignored elsewhere.
func (d *Dispatcher) Send(ctx context.Context, target gateway.Target, entityID, cmd string, value *float64) error {
	start := time.Now()
	err := d.dispatch(ctx, target, entityID, cmd, value)
	if d.recorder != nil {
		d.recorder.RecordCommand(cmd, time.Since(start), err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, target gateway.Target, entityID, cmd string, value *float64) error {
	domain := device.DomainOf(entityID)
	payload := map[string]any{"entity_id": entityID}

	switch cmd {
	case "light/toggle":
		if domain != "light" {
			return d.gw.CallService(ctx, target, "homeassistant", "toggle", payload)
		}
		state, err := d.gw.GetState(ctx, target, entityID)
		if err != nil {
			return err
		}
		service := "turn_on"
		if state.State == "on" {
			service = "turn_off"
		}
		return d.gw.CallService(ctx, target, "light", service, payload)

	case "light/set_brightness":
		if value == nil {
			return fmt.Errorf("%w: %s", ErrValueRequired, cmd)
		}
		if domain != "light" {
			return fmt.Errorf("%w: %s on %s", ErrDomainMismatch, cmd, entityID)
		}
		payload["brightness_pct"] = clamp(*value, 0, 100)
		return d.gw.CallService(ctx, target, "light", "turn_on", payload)

	case "blind/open":
		return d.gw.CallService(ctx, target, "cover", "open_cover", payload)
	case "blind/close":
		return d.gw.CallService(ctx, target, "cover", "close_cover", payload)

	case "media/play_pause":
		state, err := d.gw.GetState(ctx, target, entityID)
		if err != nil {
			return err
		}
		service := "media_play"
		if state.State == "playing" {
			service = "media_pause"
		}
		return d.gw.CallService(ctx, target, "media_player", service, payload)

	case "media/next":
		return d.gw.CallService(ctx, target, "media_player", "media_next_track", payload)
	case "media/previous":
		return d.gw.CallService(ctx, target, "media_player", "media_previous_track", payload)
	case "media/volume_up":
		return d.gw.CallService(ctx, target, "media_player", "volume_up", payload)
	case "media/volume_down":
		return d.gw.CallService(ctx, target, "media_player", "volume_down", payload)

	case "media/volume_set":
		if value == nil {
			return fmt.Errorf("%w: %s", ErrValueRequired, cmd)
		}
		payload["volume_level"] = clamp(*value/100, 0, 1)
		return d.gw.CallService(ctx, target, "media_player", "volume_set", payload)

	case "boiler/temp_up", "boiler/temp_down":
		state, err := d.gw.GetState(ctx, target, entityID)
		if err != nil {
			return err
		}
		current := 20.0
		if t, ok := state.Attributes["temperature"].(float64); ok {
			current = t
		}
		if cmd == "boiler/temp_up" {
			payload["temperature"] = current + 1
		} else {
			payload["temperature"] = current - 1
		}
		return d.gw.CallService(ctx, target, domain, "set_temperature", payload)

	case "tv/toggle_power", "speaker/toggle_power":
		state, err := d.gw.GetState(ctx, target, entityID)
		if err != nil {
			return err
		}
		service := "turn_off"
		if state.State == "off" || state.State == "standby" {
			service = "turn_on"
		}
		return d.gw.CallService(ctx, target, "media_player", service, payload)

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
