package device

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/meross-go/capability"
	"github.com/nerrad567/meross-go/model"
)

// Logger defines the logging interface used by the package.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Executor runs a command for one device. The manager implements it,
// owning transport selection and rate limiting; Device binds its UUID
// onto it to satisfy capability.Commander.
type Executor interface {
	ExecuteFor(ctx context.Context, deviceUUID, method, namespace string, payload any) (json.RawMessage, error)
}

// Device is one composed fleet member. Inventory fields come from the
// cloud device list; abilities and capability state come from the
// device itself. All accessors are safe for concurrent use.
type Device struct {
	exec Executor
	log  Logger

	mu        sync.RWMutex
	info      model.DeviceInfo
	abilities capability.AbilitySet
	caps      *capability.Set
	online    model.OnlineStatus
	lanAddr   string
	lastPush  time.Time
	retired   bool

	subMu sync.RWMutex
	subs  map[string]*Subdevice

	// onRetire is set by the registry so an unbind push removes the
	// device from the index.
	onRetire func(uuid string)
}

// Config assembles a Device.
type Config struct {
	Info      model.DeviceInfo
	Abilities capability.AbilitySet
	Executor  Executor
	Composer  *capability.Composer
	Logger    Logger
}

// New composes a device from its inventory record and advertised
// ability set.
func New(cfg Config) *Device {
	d := &Device{
		exec:      cfg.Executor,
		log:       cfg.Logger,
		info:      cfg.Info,
		abilities: cfg.Abilities,
		online:    cfg.Info.OnlineStatus,
		subs:      make(map[string]*Subdevice),
	}
	if d.log == nil {
		d.log = noopLogger{}
	}

	channels := make([]capability.Channel, 0, len(cfg.Info.Channels))
	for _, ch := range cfg.Info.Channels {
		channels = append(channels, capability.Channel{
			Index:    ch.Index,
			IsMaster: ch.IsMasterChannel,
		})
	}
	deps := capability.Deps{
		Commander: d,
		Abilities: cfg.Abilities,
		Channels:  channels,
		Logger:    d.log,
		Hooks: capability.SystemHooks{
			OnOnlineChange: d.setOnline,
			OnLANAddress:   d.setLANAddress,
			OnUnbind:       d.retire,
		},
	}
	composer := cfg.Composer
	if composer == nil {
		composer = capability.NewComposer()
	}
	d.caps = composer.Compose(
		cfg.Info.Type, cfg.Info.HardwareVersion, cfg.Info.FirmwareVersion,
		cfg.Abilities, deps,
	)
	return d
}

// UUID returns the device's vendor identifier.
func (d *Device) UUID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info.UUID
}

// Name returns the user-assigned device name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info.Name
}

// Type returns the hardware model identifier.
func (d *Device) Type() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info.Type
}

// Info returns a copy of the inventory record.
func (d *Device) Info() model.DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info
}

// UpdateInfo absorbs a refreshed inventory record, keeping
// device-sourced state intact.
func (d *Device) UpdateInfo(info model.DeviceInfo) {
	d.mu.Lock()
	d.info = info
	if info.OnlineStatus != model.OnlineStatusUnknown {
		d.online = info.OnlineStatus
	}
	d.mu.Unlock()
}

// Online returns the current availability.
func (d *Device) Online() model.OnlineStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.online
}

// LANAddress returns the device's LAN IP, discovered from a full state
// refresh. Empty until one has completed.
func (d *Device) LANAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lanAddr
}

// Retired reports whether the device announced removal from the
// account.
func (d *Device) Retired() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.retired
}

// Abilities returns the advertised ability set.
func (d *Device) Abilities() capability.AbilitySet {
	return d.abilities
}

// Supports reports whether the device advertised the namespace.
func (d *Device) Supports(ns string) bool {
	return d.abilities.Has(ns)
}

// Capabilities exposes the composed module set.
func (d *Device) Capabilities() *capability.Set {
	return d.caps
}

// ToggleX returns the multi-channel switch module, if composed.
func (d *Device) ToggleX() (*capability.ToggleX, bool) {
	mod, ok := d.caps.Get(capability.NSControlToggleX)
	if !ok {
		return nil, false
	}
	t, ok := mod.(*capability.ToggleX)
	return t, ok
}

// Toggle returns the legacy single-channel switch module, if composed.
func (d *Device) Toggle() (*capability.Toggle, bool) {
	mod, ok := d.caps.Get(capability.NSControlToggle)
	if !ok {
		return nil, false
	}
	t, ok := mod.(*capability.Toggle)
	return t, ok
}

// Light returns the light module, if composed.
func (d *Device) Light() (*capability.Light, bool) {
	mod, ok := d.caps.Get(capability.NSControlLight)
	if !ok {
		return nil, false
	}
	l, ok := mod.(*capability.Light)
	return l, ok
}

// GarageOpener returns the garage door module, if composed.
func (d *Device) GarageOpener() (*capability.GarageOpener, bool) {
	mod, ok := d.caps.Get(capability.NSGarageDoorState)
	if !ok {
		return nil, false
	}
	g, ok := mod.(*capability.GarageOpener)
	return g, ok
}

// RollerShutter returns the shutter module, if composed.
func (d *Device) RollerShutter() (*capability.RollerShutter, bool) {
	mod, ok := d.caps.Get(capability.NSRollerShutterState)
	if !ok {
		return nil, false
	}
	r, ok := mod.(*capability.RollerShutter)
	return r, ok
}

// Electricity returns the power metering module, if composed.
func (d *Device) Electricity() (*capability.Electricity, bool) {
	mod, ok := d.caps.Get(capability.NSControlElectricity)
	if !ok {
		return nil, false
	}
	e, ok := mod.(*capability.Electricity)
	return e, ok
}

// Runtime returns the radio diagnostics module, if composed.
func (d *Device) Runtime() (*capability.RuntimeInfo, bool) {
	mod, ok := d.caps.Get(capability.NSSystemRuntime)
	if !ok {
		return nil, false
	}
	r, ok := mod.(*capability.RuntimeInfo)
	return r, ok
}

// Thermostat returns the wall thermostat module, if composed.
func (d *Device) Thermostat() (*capability.Thermostat, bool) {
	mod, ok := d.caps.Get(capability.NSThermostatMode)
	if !ok {
		return nil, false
	}
	t, ok := mod.(*capability.Thermostat)
	return t, ok
}

// Hub returns the hub module, if composed.
func (d *Device) Hub() (*capability.Hub, bool) {
	mod, ok := d.caps.Get(capability.NSHubOnline)
	if !ok {
		return nil, false
	}
	h, ok := mod.(*capability.Hub)
	return h, ok
}

// System returns the base system module.
func (d *Device) System() *capability.System {
	mod, _ := d.caps.Get(capability.NSSystemAll)
	return mod.(*capability.System)
}

// RefreshState fetches the full device state and fans it out across
// the composed modules.
func (d *Device) RefreshState(ctx context.Context) error {
	return d.System().RefreshAll(ctx)
}

// ExecuteCommand implements capability.Commander by binding this
// device's UUID onto the manager's executor.
func (d *Device) ExecuteCommand(ctx context.Context, method, namespace string, payload any) (json.RawMessage, error) {
	return d.exec.ExecuteFor(ctx, d.UUID(), method, namespace, payload)
}

// HandlePush runs the capability push chain for one notification and
// reports whether any module consumed it. Pushes older than the last
// applied one are dropped; the broker can replay queued messages after
// a reconnect.
func (d *Device) HandlePush(ns string, payload json.RawMessage, sentAt time.Time) bool {
	d.mu.Lock()
	if !sentAt.IsZero() && !d.lastPush.IsZero() && sentAt.Before(d.lastPush) {
		d.mu.Unlock()
		d.log.Debug("dropping stale push",
			"uuid", d.info.UUID, "namespace", ns,
			"sent", sentAt, "lastApplied", d.lastPush)
		return true
	}
	if !sentAt.IsZero() {
		d.lastPush = sentAt
	}
	d.mu.Unlock()

	// The chain runs outside the device lock; modules take their own.
	return d.caps.HandlePush(ns, payload)
}

func (d *Device) setOnline(status model.OnlineStatus) {
	d.mu.Lock()
	d.online = status
	d.mu.Unlock()
	d.log.Info("device availability changed",
		"uuid", d.info.UUID, "status", status.String())
}

func (d *Device) setLANAddress(addr string) {
	d.mu.Lock()
	changed := d.lanAddr != addr
	d.lanAddr = addr
	d.mu.Unlock()
	if changed {
		d.log.Debug("device LAN address learned",
			"uuid", d.info.UUID, "address", addr)
	}
}

func (d *Device) setRetireHook(hook func(uuid string)) {
	d.mu.Lock()
	d.onRetire = hook
	d.mu.Unlock()
}

func (d *Device) retire() {
	d.mu.Lock()
	d.retired = true
	retire := d.onRetire
	uuid := d.info.UUID
	d.mu.Unlock()
	d.log.Info("device unbound from account", "uuid", uuid)
	if retire != nil {
		retire(uuid)
	}
}
