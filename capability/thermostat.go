package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// ThermostatMode is the operating mode of an mts200-class thermostat.
type ThermostatMode int

// Thermostat modes accepted by Appliance.Control.Thermostat.Mode.
const (
	ThermostatHeat    ThermostatMode = 0
	ThermostatCool    ThermostatMode = 1
	ThermostatEconomy ThermostatMode = 2
	ThermostatAuto    ThermostatMode = 3
	ThermostatManual  ThermostatMode = 4
)

// String returns a readable mode name.
func (m ThermostatMode) String() string {
	switch m {
	case ThermostatHeat:
		return "heat"
	case ThermostatCool:
		return "cool"
	case ThermostatEconomy:
		return "economy"
	case ThermostatAuto:
		return "auto"
	case ThermostatManual:
		return "manual"
	default:
		return fmt.Sprintf("thermostat(%d)", int(m))
	}
}

// ThermostatState is the decoded state of one thermostat channel.
// Temperatures are degrees Celsius; the wire carries tenths.
type ThermostatState struct {
	Channel  int
	Mode     ThermostatMode
	On       bool
	Warning  bool
	CurrentC float64
	TargetC  float64
	MinC     float64
	MaxC     float64
	HeatC    float64
	CoolC    float64
	EconomyC float64
	ManualC  float64
}

// Thermostat drives wall thermostats advertising
// Appliance.Control.Thermostat.Mode. Target temperatures are aligned
// to the device's half-degree grid before sending; values outside the
// device's advertised [min,max] are rejected.
type Thermostat struct {
	cmd Commander

	mu    sync.RWMutex
	state map[int]ThermostatState
	known map[int]bool
}

func newThermostat(deps Deps) Capability {
	return &Thermostat{
		cmd:   deps.Commander,
		state: make(map[int]ThermostatState),
		known: make(map[int]bool),
	}
}

// Namespace implements Capability.
func (t *Thermostat) Namespace() string { return NSThermostatMode }

// State returns the cached state for the channel.
func (t *Thermostat) State(channel int) (ThermostatState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[channel], t.known[channel]
}

// Refresh fetches the current mode state from the device.
func (t *Thermostat) Refresh(ctx context.Context, channel int) (ThermostatState, error) {
	payload := map[string]any{"mode": []map[string]any{{"channel": channel}}}
	resp, err := t.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSThermostatMode, payload)
	if err != nil {
		return ThermostatState{}, err
	}
	if _, err := t.HandlePush(NSThermostatMode, resp); err != nil {
		return ThermostatState{}, err
	}
	st, _ := t.State(channel)
	return st, nil
}

// SetMode changes the operating mode.
func (t *Thermostat) SetMode(ctx context.Context, channel int, mode ThermostatMode) error {
	if mode < ThermostatHeat || mode > ThermostatManual {
		return fmt.Errorf("thermostat mode %d: %w", int(mode), ErrInvalidArgument)
	}
	return t.send(ctx, map[string]any{"channel": channel, "mode": int(mode)})
}

// SetOnOff switches the thermostat on or off without changing mode.
func (t *Thermostat) SetOnOff(ctx context.Context, channel int, on bool) error {
	onoff := 0
	if on {
		onoff = 1
	}
	return t.send(ctx, map[string]any{"channel": channel, "onoff": onoff})
}

// SetTarget sets the manual target temperature in degrees Celsius. The
// value is aligned to the nearest 0.5°C; after alignment it must fall
// inside the device's advertised range.
func (t *Thermostat) SetTarget(ctx context.Context, channel int, tempC float64) error {
	tenths := alignHalfDegree(tempC)
	t.mu.RLock()
	st, known := t.state[channel], t.known[channel]
	t.mu.RUnlock()
	if known && st.MaxC > st.MinC {
		if c := float64(tenths) / 10; c < st.MinC || c > st.MaxC {
			return fmt.Errorf("target %.1f°C outside [%.1f,%.1f]: %w",
				c, st.MinC, st.MaxC, ErrInvalidArgument)
		}
	}
	return t.send(ctx, map[string]any{"channel": channel, "manualTemp": tenths})
}

func (t *Thermostat) send(ctx context.Context, mode map[string]any) error {
	payload := map[string]any{"mode": []map[string]any{mode}}
	resp, err := t.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSThermostatMode, payload)
	if err != nil {
		return err
	}
	// SETACK echoes the resulting mode state.
	if len(resp) > 0 {
		_, _ = t.HandlePush(NSThermostatMode, resp)
	}
	return nil
}

// alignHalfDegree converts degrees Celsius to wire tenths rounded to
// the nearest multiple of five.
func alignHalfDegree(tempC float64) int {
	return int(math.Round(tempC*2)) * 5
}

type thermostatEntry struct {
	Channel     int `json:"channel"`
	Mode        int `json:"state"`
	OnOff       int `json:"onoff"`
	Warning     int `json:"warning"`
	CurrentTemp int `json:"currentTemp"`
	TargetTemp  int `json:"targetTemp"`
	Min         int `json:"min"`
	Max         int `json:"max"`
	HeatTemp    int `json:"heatTemp"`
	CoolTemp    int `json:"coolTemp"`
	EcoTemp     int `json:"ecoTemp"`
	ManualTemp  int `json:"manualTemp"`
}

// HandlePush implements Capability.
func (t *Thermostat) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != NSThermostatMode {
		return false, nil
	}
	var body struct {
		Mode []thermostatEntry `json:"mode"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	t.mu.Lock()
	for _, e := range body.Mode {
		t.state[e.Channel] = ThermostatState{
			Channel:  e.Channel,
			Mode:     ThermostatMode(e.Mode),
			On:       e.OnOff != 0,
			Warning:  e.Warning != 0,
			CurrentC: float64(e.CurrentTemp) / 10,
			TargetC:  float64(e.TargetTemp) / 10,
			MinC:     float64(e.Min) / 10,
			MaxC:     float64(e.Max) / 10,
			HeatC:    float64(e.HeatTemp) / 10,
			CoolC:    float64(e.CoolTemp) / 10,
			EconomyC: float64(e.EcoTemp) / 10,
			ManualC:  float64(e.ManualTemp) / 10,
		}
		t.known[e.Channel] = true
	}
	t.mu.Unlock()
	return true, nil
}

// HandleUpdate implements Capability, consuming the "thermostat" digest
// which nests mode entries under "mode".
func (t *Thermostat) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != NSThermostatMode {
		return false, nil
	}
	return t.HandlePush(ns, data)
}
