package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// ShutterState is the motion state of a roller shutter channel.
type ShutterState int

// Shutter motion states as reported by Appliance.RollerShutter.State.
const (
	ShutterIdle    ShutterState = 0
	ShutterOpening ShutterState = 1
	ShutterClosing ShutterState = 2
	ShutterUnknown ShutterState = -1
)

// String returns a readable state name.
func (s ShutterState) String() string {
	switch s {
	case ShutterIdle:
		return "idle"
	case ShutterOpening:
		return "opening"
	case ShutterClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Shutter position sentinel: −1 stops the motor wherever it is.
const PositionStop = -1

// Shutter travel timer bounds in seconds accepted by
// Appliance.RollerShutter.Config.
const (
	minShutterTimerSec = 10
	maxShutterTimerSec = 120
)

// RollerShutter drives shutter channels on devices advertising the
// Appliance.RollerShutter family. Position is a percentage of travel,
// 0 fully closed and 100 fully open; motion state and position arrive
// asynchronously while the motor runs.
type RollerShutter struct {
	cmd Commander

	mu       sync.RWMutex
	state    map[int]ShutterState
	position map[int]int
	posKnown map[int]bool
	openMs   map[int]int
	closeMs  map[int]int
	cfgKnown map[int]bool
}

func newRollerShutter(deps Deps) Capability {
	return &RollerShutter{
		cmd:      deps.Commander,
		state:    make(map[int]ShutterState),
		position: make(map[int]int),
		posKnown: make(map[int]bool),
		openMs:   make(map[int]int),
		closeMs:  make(map[int]int),
		cfgKnown: make(map[int]bool),
	}
}

// Namespace implements Capability.
func (r *RollerShutter) Namespace() string { return NSRollerShutterState }

// State returns the cached motion state for the channel.
func (r *RollerShutter) State(channel int) ShutterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.state[channel]; ok {
		return st
	}
	return ShutterUnknown
}

// Position returns the cached travel percentage for the channel.
func (r *RollerShutter) Position(channel int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position[channel], r.posKnown[channel]
}

// Open runs the shutter fully open.
func (r *RollerShutter) Open(ctx context.Context, channel int) error {
	return r.SetPosition(ctx, channel, 100)
}

// Close runs the shutter fully closed.
func (r *RollerShutter) Close(ctx context.Context, channel int) error {
	return r.SetPosition(ctx, channel, 0)
}

// Stop halts the motor at the current position.
func (r *RollerShutter) Stop(ctx context.Context, channel int) error {
	return r.SetPosition(ctx, channel, PositionStop)
}

// SetPosition runs the shutter to the given percentage of travel, or
// stops it when position is PositionStop.
func (r *RollerShutter) SetPosition(ctx context.Context, channel, position int) error {
	if position != PositionStop && (position < 0 || position > 100) {
		return fmt.Errorf("shutter position %d out of [0,100]: %w", position, ErrInvalidArgument)
	}
	payload := map[string]any{
		"position": map[string]any{"channel": channel, "position": position},
	}
	_, err := r.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSRollerShutterPosition, payload)
	return err
}

// OpenTimerMillis returns the configured open travel time in
// milliseconds, fetching the config if it has not been seen yet.
func (r *RollerShutter) OpenTimerMillis(ctx context.Context, channel int) (int, error) {
	if err := r.ensureConfig(ctx, channel); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.openMs[channel], nil
}

// CloseTimerMillis returns the configured close travel time in
// milliseconds, fetching the config if it has not been seen yet.
func (r *RollerShutter) CloseTimerMillis(ctx context.Context, channel int) (int, error) {
	if err := r.ensureConfig(ctx, channel); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closeMs[channel], nil
}

// SetTravelTimers configures how long the motor runs for a full open
// and a full close, in seconds within [10,120].
func (r *RollerShutter) SetTravelTimers(ctx context.Context, channel, openSec, closeSec int) error {
	for _, sec := range []int{openSec, closeSec} {
		if sec < minShutterTimerSec || sec > maxShutterTimerSec {
			return fmt.Errorf("shutter timer %ds out of [%d,%d]: %w",
				sec, minShutterTimerSec, maxShutterTimerSec, ErrInvalidArgument)
		}
	}
	payload := map[string]any{
		"config": map[string]any{
			"channel":     channel,
			"signalOpen":  openSec * 1000,
			"signalClose": closeSec * 1000,
		},
	}
	if _, err := r.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSRollerShutterConfig, payload); err != nil {
		return err
	}
	r.mu.Lock()
	r.openMs[channel] = openSec * 1000
	r.closeMs[channel] = closeSec * 1000
	r.cfgKnown[channel] = true
	r.mu.Unlock()
	return nil
}

func (r *RollerShutter) ensureConfig(ctx context.Context, channel int) error {
	r.mu.RLock()
	known := r.cfgKnown[channel]
	r.mu.RUnlock()
	if known {
		return nil
	}
	payload := map[string]any{"config": []map[string]any{{"channel": channel}}}
	resp, err := r.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSRollerShutterConfig, payload)
	if err != nil {
		return err
	}
	var body struct {
		Config []struct {
			Channel     int `json:"channel"`
			SignalOpen  int `json:"signalOpen"`
			SignalClose int `json:"signalClose"`
		} `json:"config"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return err
	}
	r.mu.Lock()
	for _, c := range body.Config {
		r.openMs[c.Channel] = c.SignalOpen
		r.closeMs[c.Channel] = c.SignalClose
		r.cfgKnown[c.Channel] = true
	}
	r.mu.Unlock()
	return nil
}

// HandlePush implements Capability, tracking motion state and position
// pushes emitted while the motor runs.
func (r *RollerShutter) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	switch ns {
	case NSRollerShutterState:
		var body struct {
			State []struct {
				Channel int `json:"channel"`
				State   int `json:"state"`
			} `json:"state"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		r.mu.Lock()
		for _, e := range body.State {
			r.state[e.Channel] = ShutterState(e.State)
		}
		r.mu.Unlock()
		return true, nil
	case NSRollerShutterPosition:
		var body struct {
			Position []struct {
				Channel  int `json:"channel"`
				Position int `json:"position"`
			} `json:"position"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		r.mu.Lock()
		for _, e := range body.Position {
			r.position[e.Channel] = e.Position
			r.posKnown[e.Channel] = true
		}
		r.mu.Unlock()
		return true, nil
	}
	return false, nil
}

// HandleUpdate implements Capability. Shutter digests are not present
// in Appliance.System.All, so there is nothing to consume.
func (r *RollerShutter) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
