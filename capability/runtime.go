package capability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/meross-go/envelope"
)

// RuntimeStats is a point-in-time hardware report, currently the Wi-Fi
// signal strength percentage.
type RuntimeStats struct {
	SignalStrength int
	SampledAt      time.Time
}

// RuntimeInfo reads hardware runtime telemetry from devices
// advertising Appliance.System.Runtime.
type RuntimeInfo struct {
	cmd Commander

	mu   sync.RWMutex
	last RuntimeStats
	seen bool
}

func newRuntimeInfo(deps Deps) Capability {
	return &RuntimeInfo{cmd: deps.Commander}
}

// Namespace implements Capability.
func (r *RuntimeInfo) Namespace() string { return NSSystemRuntime }

// Refresh fetches a fresh runtime report.
func (r *RuntimeInfo) Refresh(ctx context.Context) (RuntimeStats, error) {
	resp, err := r.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSSystemRuntime, map[string]any{})
	if err != nil {
		return RuntimeStats{}, err
	}
	var body struct {
		Runtime struct {
			Signal int `json:"signal"`
		} `json:"runtime"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return RuntimeStats{}, err
	}
	stats := RuntimeStats{SignalStrength: body.Runtime.Signal, SampledAt: time.Now()}
	r.mu.Lock()
	r.last, r.seen = stats, true
	r.mu.Unlock()
	return stats, nil
}

// Last returns the most recent report.
func (r *RuntimeInfo) Last() (RuntimeStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.seen
}

// HandlePush implements Capability; runtime has no pushes.
func (r *RuntimeInfo) HandlePush(string, json.RawMessage) (bool, error) {
	return false, nil
}

// HandleUpdate implements Capability; runtime has no digest.
func (r *RuntimeInfo) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
