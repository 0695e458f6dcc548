package capability

import (
	"context"
	"encoding/json"
	"sync"
)

// Logger defines the logging interface used by capability modules.
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

// Commander executes a command against the device a module belongs to.
// The manager binds transport selection, rate limiting and timeouts
// behind this seam; modules only supply method, namespace and payload.
type Commander interface {
	ExecuteCommand(ctx context.Context, method, namespace string, payload any) (json.RawMessage, error)
}

// Channel describes one controllable channel of a device as the modules
// need it: an index plus whether it is the master channel.
type Channel struct {
	Index    int
	IsMaster bool
}

// AbilitySet is the parsed Appliance.System.Ability response: ability
// namespace to its metadata object (often empty, sometimes carrying
// module parameters such as a light capacity bitmask).
type AbilitySet map[string]json.RawMessage

// Has reports whether the namespace was advertised.
func (a AbilitySet) Has(ns string) bool {
	_, ok := a[ns]
	return ok
}

// ParseAbilities decodes an Appliance.System.Ability GETACK payload.
func ParseAbilities(payload json.RawMessage) (AbilitySet, error) {
	var body struct {
		Ability map[string]json.RawMessage `json:"ability"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	return AbilitySet(body.Ability), nil
}

// Deps carries everything a module factory needs to build an instance.
type Deps struct {
	Commander Commander
	Abilities AbilitySet
	Channels  []Channel
	Hooks     SystemHooks
	Logger    Logger
}

func (d Deps) logger() Logger {
	if d.Logger == nil {
		return noopLogger{}
	}
	return d.Logger
}

// Capability is one composed behaviour module. HandlePush and
// HandleUpdate receive every notification for the device and report
// whether they consumed it; a module ignores namespaces that are not
// its concern.
type Capability interface {
	// Namespace returns the primary ability namespace the module serves.
	Namespace() string

	// HandlePush applies an asynchronous PUSH for namespace ns.
	HandlePush(ns string, payload json.RawMessage) (bool, error)

	// HandleUpdate applies one digest fragment from a full state refresh.
	HandleUpdate(ns string, data json.RawMessage) (bool, error)
}

// Factory builds a module instance for one device.
type Factory func(deps Deps) Capability

// moduleSpec binds a namespace to its factory. overrides names the
// non-X variant this module suppresses when both are advertised.
type moduleSpec struct {
	ns        string
	overrides string
	factory   Factory
}

// moduleTable fixes both which namespaces compose into modules and the
// order their push handlers run in. Later rows never shadow earlier
// ones; the base system module is appended by Compose itself.
var moduleTable = []moduleSpec{
	{ns: NSControlToggleX, overrides: NSControlToggle, factory: newToggleX},
	{ns: NSControlToggle, factory: newToggle},
	{ns: NSControlLight, factory: newLight},
	{ns: NSGarageDoorState, factory: newGarageOpener},
	{ns: NSRollerShutterState, factory: newRollerShutter},
	{ns: NSControlElectricity, factory: newElectricity},
	{ns: NSControlConsumptionX, overrides: NSControlConsumption, factory: newConsumptionX},
	{ns: NSControlConsumption, factory: newConsumption},
	{ns: NSControlSpray, factory: newSpray},
	{ns: NSThermostatMode, factory: newThermostat},
	{ns: NSDiffuserSpray, factory: newDiffuserSpray},
	{ns: NSDiffuserLight, factory: newDiffuserLight},
	{ns: NSSystemDNDMode, factory: newDoNotDisturb},
	{ns: NSSystemRuntime, factory: newRuntimeInfo},
	{ns: NSHubOnline, factory: newHub},
}

// Set is the ordered collection of modules composed for one device.
type Set struct {
	ordered []Capability
	byNS    map[string]Capability
	logger  Logger
}

// Compose assembles the module set for the given ability set. Unknown
// namespaces are skipped; when both an X and a non-X variant of an
// ability are advertised only the X module is built.
func Compose(abilities AbilitySet, deps Deps) *Set {
	if deps.Abilities == nil {
		deps.Abilities = abilities
	}
	suppressed := make(map[string]bool)
	for _, spec := range moduleTable {
		if spec.overrides != "" && abilities.Has(spec.ns) {
			suppressed[spec.overrides] = true
		}
	}

	s := &Set{
		byNS:   make(map[string]Capability),
		logger: deps.logger(),
	}
	for _, spec := range moduleTable {
		if !abilities.Has(spec.ns) || suppressed[spec.ns] {
			continue
		}
		mod := spec.factory(deps)
		s.ordered = append(s.ordered, mod)
		s.byNS[spec.ns] = mod
	}

	// The base system module runs last so specific modules see pushes
	// first, and a full refresh fans out through the whole set.
	sys := newSystem(deps, s)
	s.ordered = append(s.ordered, sys)
	s.byNS[NSSystemAll] = sys
	return s
}

// Get returns the module composed for the namespace, if any.
func (s *Set) Get(ns string) (Capability, bool) {
	c, ok := s.byNS[ns]
	return c, ok
}

// Namespaces returns the primary namespaces of the composed modules in
// handler order.
func (s *Set) Namespaces() []string {
	out := make([]string, 0, len(s.ordered))
	for _, c := range s.ordered {
		out = append(out, c.Namespace())
	}
	return out
}

// HandlePush runs the push chain in declaration order and reports
// whether any module consumed the notification.
func (s *Set) HandlePush(ns string, payload json.RawMessage) bool {
	consumed := false
	for _, c := range s.ordered {
		ok, err := c.HandlePush(ns, payload)
		if err != nil {
			s.logger.Warn("capability push handler failed",
				"namespace", ns, "module", c.Namespace(), "error", err)
			continue
		}
		if ok {
			consumed = true
		}
	}
	return consumed
}

// HandleUpdate feeds one digest fragment to every module and reports
// whether any of them applied it.
func (s *Set) HandleUpdate(ns string, data json.RawMessage) bool {
	applied := false
	for _, c := range s.ordered {
		ok, err := c.HandleUpdate(ns, data)
		if err != nil {
			s.logger.Warn("capability update failed",
				"namespace", ns, "module", c.Namespace(), "error", err)
			continue
		}
		if ok {
			applied = true
		}
	}
	return applied
}

// Composer caches ability resolution per firmware identity so repeated
// discoveries of identical models skip the table walk.
type Composer struct {
	mu    sync.Mutex
	cache map[composeKey][]string
}

type composeKey struct {
	deviceType string
	hwVersion  string
	fwVersion  string
}

// NewComposer returns an empty composer.
func NewComposer() *Composer {
	return &Composer{cache: make(map[composeKey][]string)}
}

// Compose builds the module set for a device, memoising the resolved
// namespace list under (deviceType, hwVersion, fwVersion). Module
// instances are always fresh; only the resolution is shared.
func (c *Composer) Compose(deviceType, hwVersion, fwVersion string, abilities AbilitySet, deps Deps) *Set {
	key := composeKey{deviceType, hwVersion, fwVersion}
	c.mu.Lock()
	resolved, seen := c.cache[key]
	if !seen {
		resolved = resolveNamespaces(abilities)
		c.cache[key] = resolved
	}
	c.mu.Unlock()

	if deps.Abilities == nil {
		deps.Abilities = abilities
	}
	s := &Set{
		byNS:   make(map[string]Capability),
		logger: deps.logger(),
	}
	for _, ns := range resolved {
		spec, ok := specFor(ns)
		if !ok {
			continue
		}
		mod := spec.factory(deps)
		s.ordered = append(s.ordered, mod)
		s.byNS[ns] = mod
	}
	sys := newSystem(deps, s)
	s.ordered = append(s.ordered, sys)
	s.byNS[NSSystemAll] = sys
	return s
}

func specFor(ns string) (moduleSpec, bool) {
	for _, spec := range moduleTable {
		if spec.ns == ns {
			return spec, true
		}
	}
	return moduleSpec{}, false
}

func resolveNamespaces(abilities AbilitySet) []string {
	suppressed := make(map[string]bool)
	for _, spec := range moduleTable {
		if spec.overrides != "" && abilities.Has(spec.ns) {
			suppressed[spec.overrides] = true
		}
	}
	var out []string
	for _, spec := range moduleTable {
		if abilities.Has(spec.ns) && !suppressed[spec.ns] {
			out = append(out, spec.ns)
		}
	}
	return out
}
