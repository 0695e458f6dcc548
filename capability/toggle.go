package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// ToggleX controls per-channel on/off state on devices advertising
// Appliance.Control.ToggleX. Setting the master channel of a
// multi-channel device switches every channel; the module mirrors that
// in its cached state so readers agree with the device without waiting
// for a push.
type ToggleX struct {
	ns       string
	cmd      Commander
	channels []Channel

	mu    sync.RWMutex
	state map[int]bool
	known map[int]bool
}

func newToggleX(deps Deps) Capability {
	return &ToggleX{
		ns:       NSControlToggleX,
		cmd:      deps.Commander,
		channels: deps.Channels,
		state:    make(map[int]bool),
		known:    make(map[int]bool),
	}
}

// Namespace implements Capability.
func (t *ToggleX) Namespace() string { return t.ns }

// IsOn reports the cached on/off state of the channel. The second
// return is false until a sample for that channel has been seen.
func (t *ToggleX) IsOn(channel int) (bool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[channel], t.known[channel]
}

// TurnOn switches the channel on.
func (t *ToggleX) TurnOn(ctx context.Context, channel int) error {
	return t.set(ctx, channel, true)
}

// TurnOff switches the channel off.
func (t *ToggleX) TurnOff(ctx context.Context, channel int) error {
	return t.set(ctx, channel, false)
}

// Toggle flips the channel. It requires a known current state.
func (t *ToggleX) Toggle(ctx context.Context, channel int) error {
	on, known := t.IsOn(channel)
	if !known {
		return fmt.Errorf("toggle channel %d: %w", channel, ErrNoState)
	}
	return t.set(ctx, channel, !on)
}

func (t *ToggleX) set(ctx context.Context, channel int, on bool) error {
	if !t.hasChannel(channel) {
		return fmt.Errorf("channel %d: %w", channel, ErrUnknownChannel)
	}
	onoff := 0
	if on {
		onoff = 1
	}
	payload := map[string]any{
		"togglex": map[string]any{"channel": channel, "onoff": onoff},
	}
	if _, err := t.cmd.ExecuteCommand(ctx, envelope.MethodSet, t.ns, payload); err != nil {
		return err
	}
	t.apply(channel, on)
	return nil
}

func (t *ToggleX) hasChannel(channel int) bool {
	for _, ch := range t.channels {
		if ch.Index == channel {
			return true
		}
	}
	return false
}

// apply records a confirmed state change, spreading a master-channel
// write across every channel.
func (t *ToggleX) apply(channel int, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	master := false
	for _, ch := range t.channels {
		if ch.Index == channel && ch.IsMaster {
			master = true
		}
	}
	if master {
		for _, ch := range t.channels {
			t.state[ch.Index] = on
			t.known[ch.Index] = true
		}
		return
	}
	t.state[channel] = on
	t.known[channel] = true
}

type togglexEntry struct {
	Channel int `json:"channel"`
	OnOff   int `json:"onoff"`
}

// HandlePush implements Capability. ToggleX pushes carry either a
// single object or an array under "togglex".
func (t *ToggleX) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != t.ns {
		return false, nil
	}
	var body struct {
		ToggleX json.RawMessage `json:"togglex"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	entries, err := decodeToggleXEntries(body.ToggleX)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		t.apply(e.Channel, e.OnOff != 0)
	}
	return true, nil
}

// HandleUpdate implements Capability, consuming the "togglex" digest.
func (t *ToggleX) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != t.ns {
		return false, nil
	}
	entries, err := decodeToggleXEntries(data)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	for _, e := range entries {
		t.state[e.Channel] = e.OnOff != 0
		t.known[e.Channel] = true
	}
	t.mu.Unlock()
	return true, nil
}

func decodeToggleXEntries(raw json.RawMessage) ([]togglexEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []togglexEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one togglexEntry
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []togglexEntry{one}, nil
}

// Toggle controls single-channel devices that only advertise the
// legacy Appliance.Control.Toggle ability. The composer suppresses it
// whenever ToggleX is present.
type Toggle struct {
	ns  string
	cmd Commander

	mu    sync.RWMutex
	on    bool
	known bool
}

func newToggle(deps Deps) Capability {
	return &Toggle{ns: NSControlToggle, cmd: deps.Commander}
}

// Namespace implements Capability.
func (t *Toggle) Namespace() string { return t.ns }

// IsOn reports the cached state; the second return is false until a
// sample has been seen.
func (t *Toggle) IsOn() (bool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.on, t.known
}

// TurnOn switches the device on.
func (t *Toggle) TurnOn(ctx context.Context) error { return t.set(ctx, true) }

// TurnOff switches the device off.
func (t *Toggle) TurnOff(ctx context.Context) error { return t.set(ctx, false) }

func (t *Toggle) set(ctx context.Context, on bool) error {
	onoff := 0
	if on {
		onoff = 1
	}
	payload := map[string]any{"toggle": map[string]any{"onoff": onoff}}
	if _, err := t.cmd.ExecuteCommand(ctx, envelope.MethodSet, t.ns, payload); err != nil {
		return err
	}
	t.mu.Lock()
	t.on, t.known = on, true
	t.mu.Unlock()
	return nil
}

// HandlePush implements Capability.
func (t *Toggle) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != t.ns {
		return false, nil
	}
	var body struct {
		Toggle struct {
			OnOff int `json:"onoff"`
		} `json:"toggle"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	t.mu.Lock()
	t.on, t.known = body.Toggle.OnOff != 0, true
	t.mu.Unlock()
	return true, nil
}

// HandleUpdate implements Capability, consuming the "toggle" digest.
func (t *Toggle) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != t.ns {
		return false, nil
	}
	var body struct {
		OnOff int `json:"onoff"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return false, err
	}
	t.mu.Lock()
	t.on, t.known = body.OnOff != 0, true
	t.mu.Unlock()
	return true, nil
}
