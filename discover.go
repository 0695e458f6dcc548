package meross

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/meross-go/capability"
	"github.com/nerrad567/meross-go/device"
	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// DiscoveryResult summarises one discovery pass.
type DiscoveryResult struct {
	// Added holds devices enrolled by this pass.
	Added []*device.Device

	// Updated holds devices that were already enrolled and had their
	// cloud metadata refreshed.
	Updated []*device.Device

	// Missing holds the UUIDs of enrolled devices the cloud inventory
	// no longer lists. They stay registered; only an explicit unbind
	// push removes a device. A transient partial inventory must not
	// evict reachable devices.
	Missing []string

	// Failed maps device UUIDs to the error that prevented their
	// enrollment. Discovery continues past individual failures.
	Failed map[string]error
}

// Discover reconciles the registry against the cloud inventory:
// new devices are enrolled with their advertised abilities, known
// devices get fresh metadata, and devices missing from the inventory
// are reported but kept. Ability fetches for new devices run in
// parallel.
func (m *Manager) Discover(ctx context.Context) (*DiscoveryResult, error) {
	m.mu.RLock()
	closed := m.closed
	transport := m.transport
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	infos, err := m.api.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	m.stats.APICall()

	result := &DiscoveryResult{Failed: make(map[string]error)}
	seen := make(map[string]bool, len(infos))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, info := range infos {
		seen[info.UUID] = true

		if existing, err := m.registry.Get(info.UUID); err == nil {
			existing.UpdateInfo(info)
			result.Updated = append(result.Updated, existing)
			continue
		}

		wg.Add(1)
		go func(info model.DeviceInfo) {
			defer wg.Done()
			d, err := m.enroll(ctx, info)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[info.UUID] = err
				return
			}
			result.Added = append(result.Added, d)
		}(info)
	}
	wg.Wait()

	for _, d := range m.registry.All() {
		if !seen[d.UUID()] {
			result.Missing = append(result.Missing, d.UUID())
			m.log.Warn("device absent from cloud inventory, keeping it registered",
				"uuid", d.UUID())
		}
	}

	m.log.Info("discovery complete",
		"added", len(result.Added),
		"updated", len(result.Updated),
		"missing", len(result.Missing),
		"failed", len(result.Failed))
	return result, nil
}

// enroll fetches a device's abilities, composes its capabilities and
// registers it. Hubs additionally enumerate their subdevices.
func (m *Manager) enroll(ctx context.Context, info model.DeviceInfo) (*device.Device, error) {
	abilities, err := m.fetchAbilities(ctx, info.UUID)
	if err != nil {
		return nil, fmt.Errorf("fetching abilities: %w", err)
	}

	d := device.New(device.Config{
		Info:      info,
		Abilities: abilities,
		Executor:  m,
		Composer:  m.composer,
		Logger:    m.log,
	})
	if err := m.registry.Add(d); err != nil {
		return nil, err
	}
	m.stats.DeviceDiscovered()
	m.log.Info("device enrolled",
		"uuid", info.UUID, "type", info.Type, "name", info.Name)

	if _, ok := d.Hub(); ok {
		m.enrollSubdevices(ctx, d)
	}

	// Prime the state cache. Failures here are not fatal; pushes will
	// converge the state later.
	if err := d.RefreshState(ctx); err != nil {
		m.log.Warn("initial state refresh failed", "uuid", info.UUID, "error", err)
	}
	return d, nil
}

// fetchAbilities asks the device for its advertised namespace map.
func (m *Manager) fetchAbilities(ctx context.Context, deviceUUID string) (capability.AbilitySet, error) {
	raw, err := m.ExecuteFor(ctx, deviceUUID, envelope.MethodGet, capability.NSSystemAbility, struct{}{})
	if err != nil {
		return nil, err
	}
	return capability.ParseAbilities(raw)
}

// enrollSubdevices attaches the cloud-listed subdevices to a hub and
// primes each one's state through the hub transport. Hub subdevices
// push rarely, so without an initial fetch a valve or sensor would
// read as unknown until it next reports on its own.
func (m *Manager) enrollSubdevices(ctx context.Context, hub *device.Device) {
	infos, err := m.api.ListHubSubdevices(ctx, hub.UUID())
	if err != nil {
		m.log.Warn("listing hub subdevices", "uuid", hub.UUID(), "error", err)
		return
	}
	m.stats.APICall()
	for _, info := range infos {
		sub, err := hub.AddSubdevice(info)
		if err != nil {
			m.log.Warn("attaching subdevice",
				"hub", hub.UUID(), "subdevice", info.ID, "error", err)
			continue
		}
		if err := m.primeSubdevice(ctx, sub); err != nil {
			m.log.Warn("initial subdevice state fetch failed",
				"hub", hub.UUID(), "subdevice", info.ID, "type", info.Type, "error", err)
		}
	}
}

// primeSubdevice fetches the first state sample for a freshly attached
// subdevice. The model identifier picks the Appliance.Hub.* family:
// mts-class valves answer Mts100.All, ms-class sensors Sensor.All.
func (m *Manager) primeSubdevice(ctx context.Context, sub *device.Subdevice) error {
	switch {
	case strings.HasPrefix(sub.Type(), "mts"):
		_, err := sub.RefreshValve(ctx)
		return err
	case strings.HasPrefix(sub.Type(), "ms"):
		_, err := sub.RefreshSensor(ctx)
		return err
	default:
		// Plug-style subdevices report through the hub online push;
		// there is no dedicated state family to poll.
		return nil
	}
}

// PollTelemetry samples every online metering-capable device and
// forwards the readings to the configured telemetry writer. It is a
// no-op without one.
func (m *Manager) PollTelemetry(ctx context.Context) error {
	if m.telemetry == nil {
		return nil
	}
	for _, d := range m.registry.All() {
		if d.Online() != model.OnlineStatusOnline {
			continue
		}
		m.pollDevice(ctx, d)
	}
	m.telemetry.Flush()
	return nil
}

// pollDevice gathers one device's electrical, radio and environmental
// samples.
func (m *Manager) pollDevice(ctx context.Context, d *device.Device) {
	if elec, ok := d.Electricity(); ok {
		for _, ch := range d.Info().Channels {
			sample, err := elec.Instant(ctx, ch.Index)
			if err != nil {
				m.log.Warn("sampling power", "uuid", d.UUID(), "channel", ch.Index, "error", err)
				continue
			}
			m.telemetry.WritePowerSample(d.UUID(), sample)
		}
	}
	if rt, ok := d.Runtime(); ok {
		if stats, err := rt.Refresh(ctx); err == nil {
			m.telemetry.WriteSignalStrength(d.UUID(), stats)
		}
	}
	if hub, ok := d.Hub(); ok {
		for _, id := range hub.SubdeviceIDs() {
			if sample, ok := hub.SensorLatest(id); ok {
				m.telemetry.WriteSensorSample(d.UUID(), id, sample)
			}
		}
	}
}
