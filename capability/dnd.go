package capability

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/meross-go/envelope"
)

// DoNotDisturb controls the status LED on devices advertising
// Appliance.System.DNDMode. Mode on means the LED stays dark. The
// device neither pushes nor digests this setting, so reads always go
// to the device.
type DoNotDisturb struct {
	cmd Commander
}

func newDoNotDisturb(deps Deps) Capability {
	return &DoNotDisturb{cmd: deps.Commander}
}

// Namespace implements Capability.
func (d *DoNotDisturb) Namespace() string { return NSSystemDNDMode }

// Enabled fetches whether do-not-disturb is active.
func (d *DoNotDisturb) Enabled(ctx context.Context) (bool, error) {
	resp, err := d.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSSystemDNDMode, map[string]any{})
	if err != nil {
		return false, err
	}
	var body struct {
		DNDMode struct {
			Mode int `json:"mode"`
		} `json:"DNDMode"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return false, err
	}
	return body.DNDMode.Mode != 0, nil
}

// Set switches do-not-disturb on or off.
func (d *DoNotDisturb) Set(ctx context.Context, enabled bool) error {
	mode := 0
	if enabled {
		mode = 1
	}
	payload := map[string]any{"DNDMode": map[string]any{"mode": mode}}
	_, err := d.cmd.ExecuteCommand(ctx, envelope.MethodSet, NSSystemDNDMode, payload)
	return err
}

// HandlePush implements Capability; DND mode has no pushes.
func (d *DoNotDisturb) HandlePush(string, json.RawMessage) (bool, error) {
	return false, nil
}

// HandleUpdate implements Capability; DND mode has no digest.
func (d *DoNotDisturb) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
