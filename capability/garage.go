package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
)

// GarageOpener drives garage door channels on devices advertising
// Appliance.GarageDoor.State. Door motion is asynchronous: the SET ack
// confirms the command was accepted, and the final open/closed state
// arrives as a push once the door finishes moving.
type GarageOpener struct {
	ns  string
	cmd Commander

	mu    sync.RWMutex
	open  map[int]bool
	known map[int]bool
}

func newGarageOpener(deps Deps) Capability {
	return &GarageOpener{
		ns:    NSGarageDoorState,
		cmd:   deps.Commander,
		open:  make(map[int]bool),
		known: make(map[int]bool),
	}
}

// Namespace implements Capability.
func (g *GarageOpener) Namespace() string { return g.ns }

// IsOpen reports the cached door state; the second return is false
// until a sample for that channel has been seen.
func (g *GarageOpener) IsOpen(channel int) (bool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open[channel], g.known[channel]
}

// Open commands the door open. The cached state is not changed until
// the device pushes the completed transition.
func (g *GarageOpener) Open(ctx context.Context, channel int) error {
	return g.set(ctx, channel, true)
}

// Close commands the door closed.
func (g *GarageOpener) Close(ctx context.Context, channel int) error {
	return g.set(ctx, channel, false)
}

func (g *GarageOpener) set(ctx context.Context, channel int, open bool) error {
	v := 0
	if open {
		v = 1
	}
	payload := map[string]any{
		"state": map[string]any{"channel": channel, "open": v},
	}
	_, err := g.cmd.ExecuteCommand(ctx, envelope.MethodSet, g.ns, payload)
	if err != nil {
		return fmt.Errorf("garage door channel %d: %w", channel, err)
	}
	return nil
}

type garageEntry struct {
	Channel int `json:"channel"`
	Open    int `json:"open"`
}

func (g *GarageOpener) absorb(entries []garageEntry) {
	g.mu.Lock()
	for _, e := range entries {
		g.open[e.Channel] = e.Open != 0
		g.known[e.Channel] = true
	}
	g.mu.Unlock()
}

// HandlePush implements Capability.
func (g *GarageOpener) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	if ns != g.ns {
		return false, nil
	}
	var body struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, err
	}
	entries, err := decodeGarageEntries(body.State)
	if err != nil {
		return false, err
	}
	g.absorb(entries)
	return true, nil
}

// HandleUpdate implements Capability, consuming the "garageDoor" digest.
func (g *GarageOpener) HandleUpdate(ns string, data json.RawMessage) (bool, error) {
	if ns != g.ns {
		return false, nil
	}
	entries, err := decodeGarageEntries(data)
	if err != nil {
		return false, err
	}
	g.absorb(entries)
	return true, nil
}

func decodeGarageEntries(raw json.RawMessage) ([]garageEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []garageEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one garageEntry
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []garageEntry{one}, nil
}
