package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// DiffuserSprayMode is the mist output mode of an aroma diffuser.
type DiffuserSprayMode int

// Diffuser spray modes accepted by Appliance.Control.Diffuser.Spray.
const (
	DiffuserSprayLight  DiffuserSprayMode = 0
	DiffuserSprayStrong DiffuserSprayMode = 1
	DiffuserSprayOff    DiffuserSprayMode = 2
)

// String returns a readable mode name.
func (m DiffuserSprayMode) String() string {
	switch m {
	case DiffuserSprayLight:
		return "light"
	case DiffuserSprayStrong:
		return "strong"
	case DiffuserSprayOff:
		return "off"
	default:
		return fmt.Sprintf("diffuser-spray(%d)", int(m))
	}
}

// DiffuserSpray controls mist output on aroma diffusers advertising
// Appliance.Control.Diffuser.Spray. Diffuser payloads always carry
// entry arrays, unlike the humidifier spray namespace.
type DiffuserSpray struct {
	cmd Commander

	mu    sync.RWMutex
	mode  map[int]DiffuserSprayMode
	known map[int]bool
}

func newDiffuserSpray(deps Deps) Capability {
	return &DiffuserSpray{
		cmd:   deps.Commander,
		mode:  make(map[int]DiffuserSprayMode),
		known: make(map[int]bool),
	}
}

// Namespace implements Capability.
func (d *DiffuserSpray) Namespace() string { return NSDiffuserSpray }

// Mode returns the cached mist mode for the channel.
func (d *DiffuserSpray) Mode(channel int) (DiffuserSprayMode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode[channel], d.known[channel]
}

// SetMode changes the mist mode.
func (d *DiffuserSpray) SetMode(ctx context.Context, channel int, mode DiffuserSprayMode) error {
	if mode < DiffuserSprayLight || mode > DiffuserSprayOff {
		return fmt.Errorf("diffuser spray mode %d: %w", int(mode), ErrInvalidArgument)
	}
	payload := map[string]any{
		"spray": []map[string]any{{"channel": channel, "mode": int(mode)}},
	}
	if _, err := d.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSDiffuserSpray, payload); err != nil {
		return err
	}
	d.mu.Lock()
	d.mode[channel] = mode
	d.known[channel] = true
	d.mu.Unlock()
	return nil
}

func (d *DiffuserSpray) absorb(raw json.RawMessage) error {
	var entries []sprayEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	d.mu.Lock()
	for _, e := range entries {
		d.mode[e.Channel] = DiffuserSprayMode(e.Mode)
		d.known[e.Channel] = true
	}
	d.mu.Unlock()
	return nil
}

// HandlePush implements Capability.
func (d *DiffuserSpray) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != NSDiffuserSpray {
		return false, nil
	}
	var body struct {
		Spray json.RawMessage `json:"spray"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	if len(body.Spray) == 0 {
		return true, nil
	}
	return true, d.absorb(body.Spray)
}

// HandleUpdate implements Capability, consuming the spray half of the
// combined diffuser digest.
func (d *DiffuserSpray) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != NSDiffuserSpray {
		return false, nil
	}
	return true, d.absorb(data)
}

// DiffuserLightMode selects how a diffuser's lamp behaves.
type DiffuserLightMode int

// Diffuser light modes accepted by Appliance.Control.Diffuser.Light.
const (
	DiffuserLightRotating  DiffuserLightMode = 0
	DiffuserLightFixedRGB  DiffuserLightMode = 1
	DiffuserLightFixedLumi DiffuserLightMode = 2
)

// DiffuserLightState is the decoded lamp state of one channel.
type DiffuserLightState struct {
	Channel   int
	Mode      DiffuserLightMode
	On        bool
	Color     RGB
	Luminance int
}

// DiffuserLightUpdate describes one lamp change. Nil fields are left
// alone.
type DiffuserLightUpdate struct {
	Channel   int
	Mode      *DiffuserLightMode
	OnOff     *bool
	Color     *RGB
	Luminance *int
}

// DiffuserLight controls the lamp on aroma diffusers advertising
// Appliance.Control.Diffuser.Light.
type DiffuserLight struct {
	cmd Commander

	mu    sync.RWMutex
	state map[int]DiffuserLightState
	known map[int]bool
}

func newDiffuserLight(deps Deps) Capability {
	return &DiffuserLight{
		cmd:   deps.Commander,
		state: make(map[int]DiffuserLightState),
		known: make(map[int]bool),
	}
}

// Namespace implements Capability.
func (d *DiffuserLight) Namespace() string { return NSDiffuserLight }

// State returns the cached lamp state for the channel.
func (d *DiffuserLight) State(channel int) (DiffuserLightState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state[channel], d.known[channel]
}

// SetLight applies the update, merging unspecified fields from the
// cached state.
func (d *DiffuserLight) SetLight(ctx context.Context, u DiffuserLightUpdate) error {
	d.mu.RLock()
	st := d.state[u.Channel]
	d.mu.RUnlock()

	if u.Mode != nil {
		if *u.Mode < DiffuserLightRotating || *u.Mode > DiffuserLightFixedLumi {
			return fmt.Errorf("diffuser light mode %d: %w", int(*u.Mode), ErrInvalidArgument)
		}
		st.Mode = *u.Mode
	}
	if u.OnOff != nil {
		st.On = *u.OnOff
	}
	if u.Color != nil {
		st.Color = *u.Color
	}
	if u.Luminance != nil {
		if *u.Luminance < 1 || *u.Luminance > 100 {
			return fmt.Errorf("luminance %d out of [1,100]: %w", *u.Luminance, ErrInvalidArgument)
		}
		st.Luminance = *u.Luminance
	}
	st.Channel = u.Channel

	onoff := 0
	if st.On {
		onoff = 1
	}
	payload := map[string]any{
		"light": []map[string]any{{
			"channel":   st.Channel,
			"mode":      int(st.Mode),
			"onoff":     onoff,
			"rgb":       st.Color.Encode(),
			"luminance": st.Luminance,
		}},
	}
	if _, err := d.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSDiffuserLight, payload); err != nil {
		return err
	}
	d.mu.Lock()
	d.state[u.Channel] = st
	d.known[u.Channel] = true
	d.mu.Unlock()
	return nil
}

type diffuserLightEntry struct {
	Channel   int `json:"channel"`
	Mode      int `json:"mode"`
	OnOff     int `json:"onoff"`
	RGB       int `json:"rgb"`
	Luminance int `json:"luminance"`
}

func (d *DiffuserLight) absorb(raw json.RawMessage) error {
	var entries []diffuserLightEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	d.mu.Lock()
	for _, e := range entries {
		d.state[e.Channel] = DiffuserLightState{
			Channel:   e.Channel,
			Mode:      DiffuserLightMode(e.Mode),
			On:        e.OnOff != 0,
			Color:     DecodeRGB(e.RGB),
			Luminance: e.Luminance,
		}
		d.known[e.Channel] = true
	}
	d.mu.Unlock()
	return nil
}

// HandlePush implements Capability.
func (d *DiffuserLight) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != NSDiffuserLight {
		return false, nil
	}
	var body struct {
		Light json.RawMessage `json:"light"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	if len(body.Light) == 0 {
		return true, nil
	}
	return true, d.absorb(body.Light)
}

// HandleUpdate implements Capability, consuming the light half of the
// combined diffuser digest.
func (d *DiffuserLight) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != NSDiffuserLight {
		return false, nil
	}
	return true, d.absorb(data)
}
