package capability

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// SystemHooks are callbacks the base system module fires when
// device-level facts change. All hooks are optional and are invoked
// without any module lock held.
type SystemHooks struct {
	// OnOnlineChange fires when the device's availability changes.
	OnOnlineChange func(status model.OnlineStatus)

	// OnLANAddress fires when a full refresh reveals the device's
	// LAN IP address.
	OnLANAddress func(addr string)

	// OnUnbind fires when the device announces removal from the
	// account.
	OnUnbind func()
}

// HardwareInfo is the hardware block of Appliance.System.All.
type HardwareInfo struct {
	Type     string `json:"type"`
	SubType  string `json:"subType"`
	Version  string `json:"version"`
	ChipType string `json:"chipType"`
	UUID     string `json:"uuid"`
	MacAddr  string `json:"macAddress"`
}

// FirmwareInfo is the firmware block of Appliance.System.All.
type FirmwareInfo struct {
	Version  string `json:"version"`
	InnerIP  string `json:"innerIp"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	UserID   int    `json:"userId"`
	WifiMac  string `json:"wifiMac"`
	Compiled string `json:"compileTime"`
}

// digestNamespaces maps Appliance.System.All digest keys to the
// module namespace that consumes them.
var digestNamespaces = map[string]string{
	"toggle":     NSControlToggle,
	"togglex":    NSControlToggleX,
	"light":      NSControlLight,
	"spray":      NSControlSpray,
	"garageDoor": NSGarageDoorState,
	"thermostat": NSThermostatMode,
}

// System is the base module composed into every device. It owns the
// full state refresh, tracks availability, and absorbs the bind and
// unbind lifecycle pushes. It always runs last in the push chain.
type System struct {
	cmd   Commander
	set   *Set
	hooks SystemHooks
	log   Logger

	mu       sync.RWMutex
	hardware HardwareInfo
	firmware FirmwareInfo
	online   model.OnlineStatus
	seen     bool
}

func newSystem(deps Deps, set *Set) *System {
	return &System{
		cmd:    deps.Commander,
		set:    set,
		hooks:  deps.Hooks,
		log:    deps.logger(),
		online: model.OnlineStatusUnknown,
	}
}

// Namespace implements Capability.
func (s *System) Namespace() string { return NSSystemAll }

// Online returns the last known availability.
func (s *System) Online() model.OnlineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Hardware returns the hardware block from the last full refresh.
func (s *System) Hardware() (HardwareInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardware, s.seen
}

// Firmware returns the firmware block from the last full refresh.
func (s *System) Firmware() (FirmwareInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firmware, s.seen
}

// RefreshAll fetches Appliance.System.All and fans the digest out to
// every composed module, so one round trip refreshes the whole device.
func (s *System) RefreshAll(ctx context.Context) error {
	resp, err := s.cmd.ExecuteCommand(ctx, envelope.MethodGet, NSSystemAll, map[string]any{})
	if err != nil {
		return err
	}
	var body struct {
		All struct {
			System struct {
				Hardware HardwareInfo `json:"hardware"`
				Firmware FirmwareInfo `json:"firmware"`
				Online   struct {
					Status int `json:"status"`
				} `json:"online"`
			} `json:"system"`
			Digest map[string]json.RawMessage `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return err
	}

	s.mu.Lock()
	s.hardware = body.All.System.Hardware
	s.firmware = body.All.System.Firmware
	s.seen = true
	s.mu.Unlock()

	s.setOnline(model.OnlineStatus(body.All.System.Online.Status))
	if ip := body.All.System.Firmware.InnerIP; ip != "" && s.hooks.OnLANAddress != nil {
		s.hooks.OnLANAddress(ip)
	}

	for key, fragment := range body.All.Digest {
		if key == "diffuser" {
			s.fanOutDiffuser(fragment)
			continue
		}
		ns, ok := digestNamespaces[key]
		if !ok {
			continue
		}
		s.set.HandleUpdate(ns, fragment)
	}
	return nil
}

// fanOutDiffuser splits the combined diffuser digest into its light
// and spray fragments.
func (s *System) fanOutDiffuser(fragment json.RawMessage) {
	var body struct {
		Light json.RawMessage `json:"light"`
		Spray json.RawMessage `json:"spray"`
	}
	if err := json.Unmarshal(fragment, &body); err != nil {
		s.log.Warn("malformed diffuser digest", "error", err)
		return
	}
	if len(body.Light) > 0 {
		s.set.HandleUpdate(NSDiffuserLight, body.Light)
	}
	if len(body.Spray) > 0 {
		s.set.HandleUpdate(NSDiffuserSpray, body.Spray)
	}
}

func (s *System) setOnline(status model.OnlineStatus) {
	s.mu.Lock()
	changed := s.online != status
	s.online = status
	s.mu.Unlock()
	if changed && s.hooks.OnOnlineChange != nil {
		s.hooks.OnOnlineChange(status)
	}
}

// HandlePush implements Capability, absorbing availability changes and
// the bind/unbind lifecycle announcements.
func (s *System) HandlePush(ns string, payload json.RawMessage) (bool, error) {
	switch ns {
	case NSSystemOnline:
		var body struct {
			Online struct {
				Status int `json:"status"`
			} `json:"online"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return false, err
		}
		s.setOnline(model.OnlineStatus(body.Online.Status))
		return true, nil
	case NSControlBind:
		// Bind announces enrollment detail the registry already has;
		// consuming it keeps the unhandled-push log quiet.
		return true, nil
	case NSControlUnbind:
		if s.hooks.OnUnbind != nil {
			s.hooks.OnUnbind()
		}
		return true, nil
	}
	return false, nil
}

// HandleUpdate implements Capability. The system module is the fan-out
// source, not a consumer.
func (s *System) HandleUpdate(string, json.RawMessage) (bool, error) {
	return false, nil
}
