package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// Capacity bits advertised in the Appliance.Control.Light ability
// metadata and echoed in every light command.
const (
	CapacityRGB         = 1
	CapacityTemperature = 2
	CapacityLuminance   = 4
)

// RGB is a 24-bit colour.
type RGB struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

// Encode packs the colour into the wire integer.
func (c RGB) Encode() int {
	return int(c.Red)<<16 | int(c.Green)<<8 | int(c.Blue)
}

// DecodeRGB unpacks a wire integer into a colour.
func DecodeRGB(v int) RGB {
	return RGB{
		Red:   uint8(v >> 16 & 0xff),
		Green: uint8(v >> 8 & 0xff),
		Blue:  uint8(v & 0xff),
	}
}

// LightUpdate describes one light change. Nil fields are left alone.
// RGB and Temperature are mutually exclusive; Temperature and
// Luminance are percentages in [1,100].
type LightUpdate struct {
	Channel     int
	RGB         *RGB
	Temperature *int
	Luminance   *int
	OnOff       *bool
}

// Light controls colour, temperature and brightness on devices
// advertising Appliance.Control.Light. The ability metadata carries a
// capacity bitmask declaring which of the three axes the hardware
// supports; axes outside the advertised capacity are silently dropped
// from outgoing commands.
type Light struct {
	ns       string
	cmd      Commander
	capacity int

	mu    sync.RWMutex
	state map[int]lightState
}

type lightState struct {
	rgb         int
	temperature int
	luminance   int
	onoff       int
	capacity    int
	known       bool
}

func newLight(deps Deps) Capability {
	l := &Light{
		ns:       NSControlLight,
		cmd:      deps.Commander,
		capacity: CapacityRGB | CapacityTemperature | CapacityLuminance,
		state:    make(map[int]lightState),
	}
	if meta, ok := deps.Abilities[NSControlLight]; ok && len(meta) > 0 {
		var body struct {
			Capacity int `json:"capacity"`
		}
		if err := json.Unmarshal(meta, &body); err == nil && body.Capacity != 0 {
			l.capacity = body.Capacity
		}
	}
	return l
}

// Namespace implements Capability.
func (l *Light) Namespace() string { return l.ns }

// SupportsRGB reports whether the hardware accepts RGB colour.
func (l *Light) SupportsRGB() bool { return l.capacity&CapacityRGB != 0 }

// SupportsTemperature reports whether the hardware accepts white
// temperature.
func (l *Light) SupportsTemperature() bool { return l.capacity&CapacityTemperature != 0 }

// SupportsLuminance reports whether the hardware accepts brightness.
func (l *Light) SupportsLuminance() bool { return l.capacity&CapacityLuminance != 0 }

// Color returns the cached colour for the channel.
func (l *Light) Color(channel int) (RGB, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.state[channel]
	if !ok || !st.known {
		return RGB{}, false
	}
	return DecodeRGB(st.rgb), true
}

// Temperature returns the cached white temperature percentage.
func (l *Light) Temperature(channel int) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.state[channel]
	return st.temperature, ok && st.known
}

// Luminance returns the cached brightness percentage.
func (l *Light) Luminance(channel int) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.state[channel]
	return st.luminance, ok && st.known
}

// SetLight applies the update. The command's capacity covers only the
// axes the update touches and the hardware advertises, so untouched
// axes keep their device-side values and axes outside the capacity
// mask are dropped without error.
func (l *Light) SetLight(ctx context.Context, u LightUpdate) error {
	if u.RGB != nil && u.Temperature != nil {
		return fmt.Errorf("rgb and temperature are mutually exclusive: %w", ErrInvalidArgument)
	}
	if u.RGB == nil && u.Temperature == nil && u.Luminance == nil && u.OnOff == nil {
		return fmt.Errorf("empty light update: %w", ErrInvalidArgument)
	}
	body := map[string]any{"channel": u.Channel}
	capacity := 0
	if u.RGB != nil && l.SupportsRGB() {
		capacity |= CapacityRGB
		body["rgb"] = u.RGB.Encode()
	}
	if u.Temperature != nil && l.SupportsTemperature() {
		if *u.Temperature < 1 || *u.Temperature > 100 {
			return fmt.Errorf("temperature %d out of [1,100]: %w", *u.Temperature, ErrInvalidArgument)
		}
		capacity |= CapacityTemperature
		body["temperature"] = *u.Temperature
	}
	if u.Luminance != nil && l.SupportsLuminance() {
		if *u.Luminance < 1 || *u.Luminance > 100 {
			return fmt.Errorf("luminance %d out of [1,100]: %w", *u.Luminance, ErrInvalidArgument)
		}
		capacity |= CapacityLuminance
		body["luminance"] = *u.Luminance
	}
	if capacity == 0 && u.OnOff == nil {
		// Every requested axis fell outside the advertised capacity;
		// there is nothing meaningful to send.
		return nil
	}
	body["capacity"] = capacity
	if u.OnOff != nil {
		onoff := 0
		if *u.OnOff {
			onoff = 1
		}
		body["onoff"] = onoff
	}
	payload := map[string]any{"light": body}
	if _, err := l.cmd.ExecuteCommand(ctx, envelope.MethodSet, l.ns, payload); err != nil {
		return err
	}
	l.applyUpdate(u, capacity)
	return nil
}

func (l *Light) applyUpdate(u LightUpdate, capacity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state[u.Channel]
	if u.RGB != nil && capacity&CapacityRGB != 0 {
		st.rgb = u.RGB.Encode()
	}
	if u.Temperature != nil && capacity&CapacityTemperature != 0 {
		st.temperature = *u.Temperature
	}
	if u.Luminance != nil && capacity&CapacityLuminance != 0 {
		st.luminance = *u.Luminance
	}
	if u.OnOff != nil {
		st.onoff = 0
		if *u.OnOff {
			st.onoff = 1
		}
	}
	st.capacity = capacity
	st.known = true
	l.state[u.Channel] = st
}

type lightEntry struct {
	Channel     int `json:"channel"`
	RGB         int `json:"rgb"`
	Temperature int `json:"temperature"`
	Luminance   int `json:"luminance"`
	OnOff       int `json:"onoff"`
	Capacity    int `json:"capacity"`
}

func (l *Light) absorb(e lightEntry) {
	l.mu.Lock()
	l.state[e.Channel] = lightState{
		rgb:         e.RGB,
		temperature: e.Temperature,
		luminance:   e.Luminance,
		onoff:       e.OnOff,
		capacity:    e.Capacity,
		known:       true,
	}
	l.mu.Unlock()
}

// HandlePush implements Capability.
func (l *Light) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != l.ns {
		return false, nil
	}
	var body struct {
		Light lightEntry `json:"light"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	l.absorb(body.Light)
	return true, nil
}

// HandleUpdate implements Capability, consuming the "light" digest.
func (l *Light) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != l.ns {
		return false, nil
	}
	var e lightEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return false, err
	}
	l.absorb(e)
	return true, nil
}
