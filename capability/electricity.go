package capability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/meross-go/envelope"
)

// PowerSample is one instantaneous electrical reading, converted from
// the device's fixed-point wire units (milliamps, decivolts,
// milliwatts) to SI floats.
type PowerSample struct {
	Channel   int
	CurrentA  float64
	VoltageV  float64
	PowerW    float64
	SampledAt time.Time
}

// Electricity reads instantaneous power metrics from devices
// advertising Appliance.Control.Electricity. Readings are pull-only;
// the device does not push them.
type Electricity struct {
	cmd Commander

	mu   sync.RWMutex
	last map[int]PowerSample
}

func newElectricity(deps Deps) Capability {
	return &Electricity{cmd: deps.Commander, last: make(map[int]PowerSample)}
}

// Namespace implements Capability.
func (e *Electricity) Namespace() string { return NSControlElectricity }

// Instant fetches a fresh reading for the channel.
func (e *Electricity) Instant(ctx context.Context, channel int) (PowerSample, error) {
	payload := map[string]any{"electricity": map[string]any{"channel": channel}}
	resp, err := e.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSControlElectricity, payload)
	if err != nil {
		return PowerSample{}, err
	}
	var body struct {
		Electricity struct {
			Channel int `json:"channel"`
			Current int `json:"current"`
			Voltage int `json:"voltage"`
			Power   int `json:"power"`
		} `json:"electricity"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return PowerSample{}, err
	}
	sample := PowerSample{
		Channel:   body.Electricity.Channel,
		CurrentA:  float64(body.Electricity.Current) / 1000,
		VoltageV:  float64(body.Electricity.Voltage) / 10,
		PowerW:    float64(body.Electricity.Power) / 1000,
		SampledAt: time.Now(),
	}
	e.mu.Lock()
	e.last[sample.Channel] = sample
	e.mu.Unlock()
	return sample, nil
}

// Last returns the most recent reading fetched for the channel.
func (e *Electricity) Last(channel int) (PowerSample, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.last[channel]
	return s, ok
}

// HandlePush implements Capability; electricity has no pushes.
func (e *Electricity) HandlePush(string, json.RawMessage) (bool, error) {
	return false, nil
}

// HandleUpdate implements Capability; electricity has no digest.
func (e *Electricity) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
