package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// Mts100Mode is the operating mode of an mts100-class radiator valve.
type Mts100Mode int

// Valve modes accepted by Appliance.Hub.Mts100.Mode.
const (
	Mts100Custom  Mts100Mode = 0
	Mts100Comfort Mts100Mode = 1
	Mts100Economy Mts100Mode = 2
	Mts100Auto    Mts100Mode = 3
	Mts100Away    Mts100Mode = 4
)

// String returns a readable mode name.
func (m Mts100Mode) String() string {
	switch m {
	case Mts100Custom:
		return "custom"
	case Mts100Comfort:
		return "comfort"
	case Mts100Economy:
		return "economy"
	case Mts100Auto:
		return "auto"
	case Mts100Away:
		return "away"
	default:
		return fmt.Sprintf("mts100(%d)", int(m))
	}
}

// Mts100State is the decoded state of one radiator valve. Temperatures
// are degrees Celsius; the wire carries tenths.
type Mts100State struct {
	Mode     Mts100Mode
	On       bool
	Heating  bool
	RoomC    float64
	TargetC  float64
	MinC     float64
	MaxC     float64
	ComfortC float64
	EconomyC float64
	AwayC    float64
	CustomC  float64
}

// SensorSample is the latest reading from an ms100-class environment
// sensor.
type SensorSample struct {
	TemperatureC float64
	Humidity     float64
	SampledAt    time.Time
}

// subdevState is everything the hub caches for one subdevice.
type subdevState struct {
	online       model.OnlineStatus
	battery      int
	batteryKnown bool
	valve        Mts100State
	valveKnown   bool
	sensor       SensorSample
	sensorKnown  bool
}

// Hub manages the subdevices behind a hub device: enrollment, per-id
// state, and the Appliance.Hub.* command and push families. All hub
// subdevice traffic addresses entries by subdevice id rather than
// channel.
type Hub struct {
	cmd Commander
	log Logger

	mu   sync.RWMutex
	subs map[string]*subdevState
}

func newHub(deps Deps) Capability {
	return &Hub{
		cmd:  deps.Commander,
		log:  deps.logger(),
		subs: make(map[string]*subdevState),
	}
}

// Namespace implements Capability.
func (h *Hub) Namespace() string { return NSHubOnline }

// Enroll registers a subdevice id so pushes addressed to it are
// retained. Unknown ids in pushes are enrolled lazily as well; this
// exists so inventory-known subdevices have state slots before their
// first push.
func (h *Hub) Enroll(id string) {
	h.mu.Lock()
	if _, ok := h.subs[id]; !ok {
		h.subs[id] = &subdevState{online: model.OnlineStatusUnknown}
	}
	h.mu.Unlock()
}

// Retire drops a subdevice and its state.
func (h *Hub) Retire(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// SubdeviceIDs returns the enrolled subdevice ids.
func (h *Hub) SubdeviceIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for id := range h.subs {
		out = append(out, id)
	}
	return out
}

// Online returns the availability of a subdevice.
func (h *Hub) Online(id string) (model.OnlineStatus, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.subs[id]
	if !ok {
		return model.OnlineStatusUnknown, fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	return st.online, nil
}

// Battery returns the cached battery percentage, fetching it from the
// hub when no sample exists yet.
func (h *Hub) Battery(ctx context.Context, id string) (int, error) {
	h.mu.RLock()
	st, ok := h.subs[id]
	known, value := false, 0
	if ok {
		known, value = st.batteryKnown, st.battery
	}
	h.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	if known {
		return value, nil
	}
	payload := map[string]any{"battery": []map[string]any{{"id": id}}}
	resp, err := h.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSHubBattery, payload)
	if err != nil {
		return 0, err
	}
	var body struct {
		Battery []struct {
			ID    string `json:"id"`
			Value int    `json:"value"`
		} `json:"battery"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return 0, err
	}
	h.mu.Lock()
	for _, e := range body.Battery {
		s := h.ensureLocked(e.ID)
		s.battery = e.Value
		s.batteryKnown = true
		if e.ID == id {
			value = e.Value
		}
	}
	h.mu.Unlock()
	return value, nil
}

// SetToggleX switches a toggle subdevice (smart plug behind a hub) on
// or off.
func (h *Hub) SetToggleX(ctx context.Context, id string, on bool) error {
	if !h.knows(id) {
		return fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	onoff := 0
	if on {
		onoff = 1
	}
	payload := map[string]any{
		"togglex": []map[string]any{{"id": id, "onoff": onoff}},
	}
	_, err := h.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSHubToggleX, payload)
	return err
}

// Mts100State returns the cached valve state for the subdevice.
func (h *Hub) Mts100State(id string) (Mts100State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.subs[id]
	if !ok || !st.valveKnown {
		return Mts100State{}, false
	}
	return st.valve, true
}

// Mts100Refresh fetches the full valve state from the hub.
func (h *Hub) Mts100Refresh(ctx context.Context, id string) (Mts100State, error) {
	if !h.knows(id) {
		return Mts100State{}, fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	payload := map[string]any{"all": []map[string]any{{"id": id}}}
	resp, err := h.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSHubMts100All, payload)
	if err != nil {
		return Mts100State{}, err
	}
	var body struct {
		All []struct {
			ID     string `json:"id"`
			Online struct {
				Status int `json:"status"`
			} `json:"online"`
			ToggleX struct {
				OnOff int `json:"onoff"`
			} `json:"togglex"`
			Mode struct {
				State int `json:"state"`
			} `json:"mode"`
			Temperature struct {
				Room       int `json:"room"`
				CurrentSet int `json:"currentSet"`
				Custom     int `json:"custom"`
				Comfort    int `json:"comfort"`
				Economy    int `json:"economy"`
				Away       int `json:"away"`
				Min        int `json:"min"`
				Max        int `json:"max"`
				Heating    int `json:"heating"`
			} `json:"temperature"`
		} `json:"all"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return Mts100State{}, err
	}
	var out Mts100State
	h.mu.Lock()
	for _, e := range body.All {
		s := h.ensureLocked(e.ID)
		s.online = model.OnlineStatus(e.Online.Status)
		s.valve = Mts100State{
			Mode:     Mts100Mode(e.Mode.State),
			On:       e.ToggleX.OnOff != 0,
			Heating:  e.Temperature.Heating != 0,
			RoomC:    float64(e.Temperature.Room) / 10,
			TargetC:  float64(e.Temperature.CurrentSet) / 10,
			MinC:     float64(e.Temperature.Min) / 10,
			MaxC:     float64(e.Temperature.Max) / 10,
			ComfortC: float64(e.Temperature.Comfort) / 10,
			EconomyC: float64(e.Temperature.Economy) / 10,
			AwayC:    float64(e.Temperature.Away) / 10,
			CustomC:  float64(e.Temperature.Custom) / 10,
		}
		s.valveKnown = true
		if e.ID == id {
			out = s.valve
		}
	}
	h.mu.Unlock()
	return out, nil
}

// Mts100SetMode changes a valve's operating mode.
func (h *Hub) Mts100SetMode(ctx context.Context, id string, mode Mts100Mode) error {
	if !h.knows(id) {
		return fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	if mode < Mts100Custom || mode > Mts100Away {
		return fmt.Errorf("valve mode %d: %w", int(mode), ErrInvalidArgument)
	}
	payload := map[string]any{
		"mode": []map[string]any{{"id": id, "state": int(mode)}},
	}
	if _, err := h.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSHubMts100Mode, payload); err != nil {
		return err
	}
	h.mu.Lock()
	if s, ok := h.subs[id]; ok && s.valveKnown {
		s.valve.Mode = mode
	}
	h.mu.Unlock()
	return nil
}

// Mts100SetTarget sets a valve's custom target temperature in degrees
// Celsius, aligned to the nearest 0.5°C. Valve targets use the same
// half-degree wire grid as wall thermostats.
func (h *Hub) Mts100SetTarget(ctx context.Context, id string, tempC float64) error {
	if !h.knows(id) {
		return fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	tenths := alignHalfDegree(tempC)
	if st, known := h.Mts100State(id); known && st.MaxC > st.MinC {
		if c := float64(tenths) / 10; c < st.MinC || c > st.MaxC {
			return fmt.Errorf("target %.1f°C outside [%.1f,%.1f]: %w",
				c, st.MinC, st.MaxC, ErrInvalidArgument)
		}
	}
	payload := map[string]any{
		"temperature": []map[string]any{{"id": id, "custom": tenths}},
	}
	if _, err := h.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSHubMts100Temp, payload); err != nil {
		return err
	}
	h.mu.Lock()
	if s, ok := h.subs[id]; ok && s.valveKnown {
		s.valve.CustomC = float64(tenths) / 10
		s.valve.TargetC = float64(tenths) / 10
	}
	h.mu.Unlock()
	return nil
}

// SensorLatest returns the cached environment sample for the
// subdevice.
func (h *Hub) SensorLatest(id string) (SensorSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.subs[id]
	if !ok || !st.sensorKnown {
		return SensorSample{}, false
	}
	return st.sensor, true
}

// SensorRefresh fetches the latest environment sample from the hub.
func (h *Hub) SensorRefresh(ctx context.Context, id string) (SensorSample, error) {
	if !h.knows(id) {
		return SensorSample{}, fmt.Errorf("subdevice %q: %w", id, ErrUnknownSubdevice)
	}
	payload := map[string]any{"all": []map[string]any{{"id": id}}}
	resp, err := h.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSHubSensorAll, payload)
	if err != nil {
		return SensorSample{}, err
	}
	var body struct {
		All []struct {
			ID     string `json:"id"`
			Online struct {
				Status int `json:"status"`
			} `json:"online"`
			TempHum struct {
				LatestTemperature int   `json:"latestTemperature"`
				LatestHumidity    int   `json:"latestHumidity"`
				LatestTime        int64 `json:"latestTime"`
			} `json:"tempHum"`
		} `json:"all"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return SensorSample{}, err
	}
	var out SensorSample
	h.mu.Lock()
	for _, e := range body.All {
		s := h.ensureLocked(e.ID)
		s.online = model.OnlineStatus(e.Online.Status)
		s.sensor = SensorSample{
			TemperatureC: float64(e.TempHum.LatestTemperature) / 10,
			Humidity:     float64(e.TempHum.LatestHumidity) / 10,
			SampledAt:    time.Unix(e.TempHum.LatestTime, 0),
		}
		s.sensorKnown = true
		if e.ID == id {
			out = s.sensor
		}
	}
	h.mu.Unlock()
	return out, nil
}

func (h *Hub) knows(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[id]
	return ok
}

// ensureLocked returns the state slot for id, creating it if needed.
// Callers hold h.mu.
func (h *Hub) ensureLocked(id string) *subdevState {
	s, ok := h.subs[id]
	if !ok {
		s = &subdevState{online: model.OnlineStatusUnknown}
		h.subs[id] = s
	}
	return s
}

// HandlePush implements Capability, absorbing the Appliance.Hub.* push
// families addressed by subdevice id.
func (h *Hub) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	switch ns {
	case NSHubOnline:
		var body struct {
			Online []struct {
				ID     string `json:"id"`
				Status int    `json:"status"`
			} `json:"online"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.Online {
			h.ensureLocked(e.ID).online = model.OnlineStatus(e.Status)
		}
		h.mu.Unlock()
		return true, nil

	case NSHubBattery:
		var body struct {
			Battery []struct {
				ID    string `json:"id"`
				Value int    `json:"value"`
			} `json:"battery"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.Battery {
			s := h.ensureLocked(e.ID)
			s.battery = e.Value
			s.batteryKnown = true
		}
		h.mu.Unlock()
		return true, nil

	case NSHubToggleX:
		var body struct {
			ToggleX []struct {
				ID    string `json:"id"`
				OnOff int    `json:"onoff"`
			} `json:"togglex"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.ToggleX {
			s := h.ensureLocked(e.ID)
			if s.valveKnown {
				s.valve.On = e.OnOff != 0
			}
		}
		h.mu.Unlock()
		return true, nil

	case NSHubMts100Mode:
		var body struct {
			Mode []struct {
				ID    string `json:"id"`
				State int    `json:"state"`
			} `json:"mode"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.Mode {
			s := h.ensureLocked(e.ID)
			s.valve.Mode = Mts100Mode(e.State)
			s.valveKnown = true
		}
		h.mu.Unlock()
		return true, nil

	case NSHubMts100Temp:
		var body struct {
			Temperature []struct {
				ID         string `json:"id"`
				Room       int    `json:"room"`
				CurrentSet int    `json:"currentSet"`
			} `json:"temperature"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.Temperature {
			s := h.ensureLocked(e.ID)
			if e.Room != 0 {
				s.valve.RoomC = float64(e.Room) / 10
			}
			if e.CurrentSet != 0 {
				s.valve.TargetC = float64(e.CurrentSet) / 10
			}
			s.valveKnown = true
		}
		h.mu.Unlock()
		return true, nil

	case NSHubSensorTempHum:
		var body struct {
			TempHum []struct {
				ID                string `json:"id"`
				LatestTemperature int    `json:"latestTemperature"`
				LatestHumidity    int    `json:"latestHumidity"`
				LatestTime        int64  `json:"latestTime"`
			} `json:"tempHum"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		h.mu.Lock()
		for _, e := range body.TempHum {
			s := h.ensureLocked(e.ID)
			s.sensor = SensorSample{
				TemperatureC: float64(e.LatestTemperature) / 10,
				Humidity:     float64(e.LatestHumidity) / 10,
				SampledAt:    time.Unix(e.LatestTime, 0),
			}
			s.sensorKnown = true
		}
		h.mu.Unlock()
		return true, nil

	case NSHubSensorAlert:
		// Alert pushes are informational; consuming them keeps the
		// unhandled-push log quiet.
		h.log.Info("hub sensor alert", "payload", string(payload))
		return true, nil
	}
	return false, nil
}

// HandleUpdate implements Capability. Hub subdevice state is not part
// of Appliance.System.All digests.
func (h *Hub) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
