package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/meross-go/capability"
	"github.com/nerrad567/meross-go/model"
)

// Subdevice is the addressable view of a sensor or valve behind a hub.
// It holds no state of its own; reads and commands delegate to the
// hub's capability module keyed by subdevice id.
type Subdevice struct {
	hub  *Device
	info model.SubdeviceInfo
}

// AddSubdevice enrolls a hub subdevice from the cloud inventory,
// returning its handle. Fails with ErrNotHub when the device has no
// hub abilities.
func (d *Device) AddSubdevice(info model.SubdeviceInfo) (*Subdevice, error) {
	hubCap, ok := d.Hub()
	if !ok {
		return nil, fmt.Errorf("device %s: %w", d.UUID(), ErrNotHub)
	}
	hubCap.Enroll(info.ID)

	sub := &Subdevice{hub: d, info: info}
	d.subMu.Lock()
	d.subs[info.ID] = sub
	d.subMu.Unlock()
	return sub, nil
}

// RemoveSubdevice retires a subdevice and drops its cached state.
func (d *Device) RemoveSubdevice(id string) {
	if hubCap, ok := d.Hub(); ok {
		hubCap.Retire(id)
	}
	d.subMu.Lock()
	delete(d.subs, id)
	d.subMu.Unlock()
}

// Subdevice returns the handle for an enrolled subdevice id.
func (d *Device) Subdevice(id string) (*Subdevice, bool) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	sub, ok := d.subs[id]
	return sub, ok
}

// Subdevices returns all enrolled subdevice handles.
func (d *Device) Subdevices() []*Subdevice {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	out := make([]*Subdevice, 0, len(d.subs))
	for _, sub := range d.subs {
		out = append(out, sub)
	}
	return out
}

// ID returns the subdevice identifier.
func (s *Subdevice) ID() string { return s.info.ID }

// Type returns the subdevice model identifier.
func (s *Subdevice) Type() string { return s.info.Type }

// Name returns the user-assigned subdevice name.
func (s *Subdevice) Name() string { return s.info.Name }

// Hub returns the owning hub device.
func (s *Subdevice) Hub() *Device { return s.hub }

// Info returns a copy of the inventory record.
func (s *Subdevice) Info() model.SubdeviceInfo { return s.info }

// Online returns the subdevice's availability as last reported by the
// hub.
func (s *Subdevice) Online() model.OnlineStatus {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return model.OnlineStatusUnknown
	}
	status, err := hubCap.Online(s.info.ID)
	if err != nil {
		return model.OnlineStatusUnknown
	}
	return status
}

// Battery returns the subdevice's battery percentage.
func (s *Subdevice) Battery(ctx context.Context) (int, error) {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return 0, fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.Battery(ctx, s.info.ID)
}

// Valve returns the cached radiator valve state.
func (s *Subdevice) Valve() (capability.Mts100State, bool) {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return capability.Mts100State{}, false
	}
	return hubCap.Mts100State(s.info.ID)
}

// RefreshValve fetches the full valve state from the hub.
func (s *Subdevice) RefreshValve(ctx context.Context) (capability.Mts100State, error) {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return capability.Mts100State{}, fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.Mts100Refresh(ctx, s.info.ID)
}

// SetValveMode changes the valve's operating mode.
func (s *Subdevice) SetValveMode(ctx context.Context, mode capability.Mts100Mode) error {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.Mts100SetMode(ctx, s.info.ID, mode)
}

// SetValveTarget sets the valve's target temperature in degrees
// Celsius.
func (s *Subdevice) SetValveTarget(ctx context.Context, tempC float64) error {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.Mts100SetTarget(ctx, s.info.ID, tempC)
}

// Sensor returns the cached environment sample.
func (s *Subdevice) Sensor() (capability.SensorSample, bool) {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return capability.SensorSample{}, false
	}
	return hubCap.SensorLatest(s.info.ID)
}

// RefreshSensor fetches the latest environment sample from the hub.
func (s *Subdevice) RefreshSensor(ctx context.Context) (capability.SensorSample, error) {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return capability.SensorSample{}, fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.SensorRefresh(ctx, s.info.ID)
}

// SetToggle switches a plug-type subdevice on or off.
func (s *Subdevice) SetToggle(ctx context.Context, on bool) error {
	hubCap, ok := s.hub.Hub()
	if !ok {
		return fmt.Errorf("device %s: %w", s.hub.UUID(), ErrNotHub)
	}
	return hubCap.SetToggleX(ctx, s.info.ID, on)
}
