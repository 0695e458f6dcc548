package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// fakeCommander records executed commands and serves canned responses
// keyed by namespace.
type fakeCommander struct {
	mu        sync.Mutex
	calls     []commandCall
	responses map[string]json.RawMessage
	err       error
}

type commandCall struct {
	method    string
	namespace string
	payload   any
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{responses: make(map[string]json.RawMessage)}
}

func (f *fakeCommander) respond(ns, body string) {
	f.responses[ns] = json.RawMessage(body)
}

func (f *fakeCommander) ExecuteCommand(_ context.Context, method, namespace string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{method, namespace, payload})
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[namespace]; ok {
		return resp, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommander) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCommander) lastCall(t *testing.T) commandCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("expected a command to have been executed")
	}
	return f.calls[len(f.calls)-1]
}

func abilitiesOf(namespaces ...string) AbilitySet {
	set := make(AbilitySet, len(namespaces))
	for _, ns := range namespaces {
		set[ns] = json.RawMessage(`{}`)
	}
	return set
}

func testDeps(cmd Commander, abilities AbilitySet) Deps {
	return Deps{
		Commander: cmd,
		Abilities: abilities,
		Channels:  []Channel{{Index: 0, IsMaster: true}, {Index: 1}, {Index: 2}},
	}
}

func TestParseAbilities(t *testing.T) {
	payload := json.RawMessage(`{"ability":{
		"Appliance.Control.ToggleX":{},
		"Appliance.Control.Light":{"capacity":6}
	}}`)
	set, err := ParseAbilities(payload)
	if err != nil {
		t.Fatalf("ParseAbilities: %v", err)
	}
	if !set.Has(NSControlToggleX) {
		t.Error("expected ToggleX to be advertised")
	}
	if set.Has(NSControlToggle) {
		t.Error("Toggle should not be advertised")
	}
}

func TestComposeAppliesXOverride(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(
		NSControlToggle, NSControlToggleX,
		NSControlConsumption, NSControlConsumptionX,
	)
	set := Compose(abilities, testDeps(cmd, abilities))

	if _, ok := set.Get(NSControlToggle); ok {
		t.Error("Toggle module composed despite ToggleX being advertised")
	}
	if _, ok := set.Get(NSControlToggleX); !ok {
		t.Error("ToggleX module missing")
	}
	if _, ok := set.Get(NSControlConsumption); ok {
		t.Error("Consumption module composed despite ConsumptionX being advertised")
	}
	if _, ok := set.Get(NSControlConsumptionX); !ok {
		t.Error("ConsumptionX module missing")
	}
}

func TestComposeSkipsUnknownNamespaces(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX, "Appliance.Vendor.Experimental")
	set := Compose(abilities, testDeps(cmd, abilities))

	// ToggleX plus the always-present system module.
	if got := len(set.Namespaces()); got != 2 {
		t.Fatalf("composed %d modules, want 2: %v", got, set.Namespaces())
	}
}

func TestComposeSystemModuleRunsLast(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX, NSControlLight)
	set := Compose(abilities, testDeps(cmd, abilities))

	names := set.Namespaces()
	if names[len(names)-1] != NSSystemAll {
		t.Errorf("system module not last: %v", names)
	}
}

func TestComposerCachesResolution(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX, NSGarageDoorState)
	c := NewComposer()

	first := c.Compose("msg100", "4.0.0", "4.2.8", abilities, testDeps(cmd, abilities))
	second := c.Compose("msg100", "4.0.0", "4.2.8", abilities, testDeps(cmd, abilities))

	if len(c.cache) != 1 {
		t.Fatalf("cache has %d entries, want 1", len(c.cache))
	}
	if fmt.Sprint(first.Namespaces()) != fmt.Sprint(second.Namespaces()) {
		t.Errorf("cached composition diverged: %v vs %v",
			first.Namespaces(), second.Namespaces())
	}
	if first == second {
		t.Error("composer returned a shared Set; instances must be fresh")
	}
}

func TestToggleXPushUpdatesState(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)
	set := Compose(abilities, testDeps(cmd, abilities))

	mod, _ := set.Get(NSControlToggleX)
	tx := mod.(*ToggleX)

	if _, known := tx.IsOn(1); known {
		t.Fatal("state should be unknown before any sample")
	}

	push := json.RawMessage(`{"togglex":[{"channel":1,"onoff":1}]}`)
	if !set.HandlePush(NSControlToggleX, push) {
		t.Fatal("push not consumed")
	}
	on, known := tx.IsOn(1)
	if !known || !on {
		t.Errorf("IsOn(1) = %v,%v after on push", on, known)
	}
	if cmd.callCount() != 0 {
		t.Error("a push must not trigger any command")
	}
}

func TestToggleXMasterChannelSpreads(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)
	set := Compose(abilities, testDeps(cmd, abilities))
	tx := mustToggleX(t, set)

	if err := tx.TurnOn(context.Background(), 0); err != nil {
		t.Fatalf("TurnOn master: %v", err)
	}
	for _, ch := range []int{0, 1, 2} {
		if on, known := tx.IsOn(ch); !known || !on {
			t.Errorf("channel %d = %v,%v after master on", ch, on, known)
		}
	}
	call := cmd.lastCall(t)
	if call.method != envelope.MethodSet || call.namespace != NSControlToggleX {
		t.Errorf("sent %s %s", call.method, call.namespace)
	}
}

func TestToggleXUnknownChannel(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)
	set := Compose(abilities, testDeps(cmd, abilities))
	tx := mustToggleX(t, set)

	err := tx.TurnOn(context.Background(), 7)
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("TurnOn(7) = %v, want ErrUnknownChannel", err)
	}
	if cmd.callCount() != 0 {
		t.Error("invalid channel must not reach the transport")
	}
}

func mustToggleX(t *testing.T, set *Set) *ToggleX {
	t.Helper()
	mod, ok := set.Get(NSControlToggleX)
	if !ok {
		t.Fatal("ToggleX module missing")
	}
	return mod.(*ToggleX)
}

func TestLightCapacityMasksUnsupportedAxes(t *testing.T) {
	cmd := newFakeCommander()
	abilities := AbilitySet{
		// Luminance only.
		NSControlLight: json.RawMessage(`{"capacity":4}`),
	}
	set := Compose(abilities, testDeps(cmd, abilities))
	mod, _ := set.Get(NSControlLight)
	light := mod.(*Light)

	// An update purely on an unadvertised axis is dropped without
	// error and without reaching the transport.
	rgb := RGB{Red: 255}
	if err := light.SetLight(context.Background(), LightUpdate{RGB: &rgb}); err != nil {
		t.Errorf("rgb on luminance-only light = %v, want silent drop", err)
	}
	if cmd.callCount() != 0 {
		t.Error("masked-out axis must not reach the transport")
	}
	if _, known := light.Color(0); known {
		t.Error("masked-out axis must not be cached")
	}

	// A mixed update keeps only the advertised axis.
	lum := 50
	if err := light.SetLight(context.Background(), LightUpdate{RGB: &rgb, Luminance: &lum}); err != nil {
		t.Fatalf("mixed update: %v", err)
	}
	payload := cmd.lastCall(t).payload.(map[string]any)
	body := payload["light"].(map[string]any)
	if body["capacity"] != CapacityLuminance {
		t.Errorf("capacity = %v, want %d", body["capacity"], CapacityLuminance)
	}
	if _, ok := body["rgb"]; ok {
		t.Error("rgb field sent despite missing capacity bit")
	}
	if got, known := light.Luminance(0); !known || got != 50 {
		t.Errorf("Luminance(0) = %d,%v", got, known)
	}
	if _, known := light.Color(0); known {
		t.Error("rgb cached despite missing capacity bit")
	}
}

func TestLightRGBTemperatureExclusive(t *testing.T) {
	cmd := newFakeCommander()
	abilities := AbilitySet{NSControlLight: json.RawMessage(`{"capacity":7}`)}
	set := Compose(abilities, testDeps(cmd, abilities))
	light, _ := set.Get(NSControlLight)

	rgb := RGB{Red: 10}
	temp := 40
	err := light.(*Light).SetLight(context.Background(), LightUpdate{RGB: &rgb, Temperature: &temp})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("rgb+temperature = %v, want ErrInvalidArgument", err)
	}
}

func TestRGBRoundTrip(t *testing.T) {
	c := RGB{Red: 0x12, Green: 0xab, Blue: 0xfe}
	if got := DecodeRGB(c.Encode()); got != c {
		t.Errorf("DecodeRGB(Encode) = %+v, want %+v", got, c)
	}
	if got := (RGB{Red: 255, Green: 255, Blue: 255}).Encode(); got != 0xffffff {
		t.Errorf("white = %#x, want 0xffffff", got)
	}
}

func TestRollerShutterPositionValidation(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSRollerShutterState, NSRollerShutterPosition, NSRollerShutterConfig)
	set := Compose(abilities, testDeps(cmd, abilities))
	rs, _ := set.Get(NSRollerShutterState)
	shutter := rs.(*RollerShutter)

	for _, bad := range []int{-2, 101, 500} {
		if err := shutter.SetPosition(context.Background(), 0, bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetPosition(%d) = %v, want ErrInvalidArgument", bad, err)
		}
	}
	if err := shutter.Stop(context.Background(), 0); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	call := cmd.lastCall(t)
	if call.namespace != NSRollerShutterPosition {
		t.Errorf("stop sent to %s", call.namespace)
	}
}

func TestRollerShutterTravelTimers(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSRollerShutterState, NSRollerShutterConfig)
	set := Compose(abilities, testDeps(cmd, abilities))
	shutter := setShutter(t, set)

	if err := shutter.SetTravelTimers(context.Background(), 0, 5, 30); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("openSec=5 accepted: %v", err)
	}
	if err := shutter.SetTravelTimers(context.Background(), 0, 25, 35); err != nil {
		t.Fatalf("SetTravelTimers: %v", err)
	}
	ms, err := shutter.OpenTimerMillis(context.Background(), 0)
	if err != nil {
		t.Fatalf("OpenTimerMillis: %v", err)
	}
	if ms != 25000 {
		t.Errorf("open timer = %dms, want 25000", ms)
	}
}

func TestRollerShutterMotionPushes(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSRollerShutterState)
	set := Compose(abilities, testDeps(cmd, abilities))
	shutter := setShutter(t, set)

	if got := shutter.State(0); got != ShutterUnknown {
		t.Fatalf("initial state = %v, want unknown", got)
	}
	set.HandlePush(NSRollerShutterState, json.RawMessage(`{"state":[{"channel":0,"state":1}]}`))
	if got := shutter.State(0); got != ShutterOpening {
		t.Errorf("state = %v, want opening", got)
	}
	set.HandlePush(NSRollerShutterPosition, json.RawMessage(`{"position":[{"channel":0,"position":100}]}`))
	if pos, known := shutter.Position(0); !known || pos != 100 {
		t.Errorf("position = %d,%v, want 100", pos, known)
	}
}

func setShutter(t *testing.T, set *Set) *RollerShutter {
	t.Helper()
	mod, ok := set.Get(NSRollerShutterState)
	if !ok {
		t.Fatal("RollerShutter module missing")
	}
	return mod.(*RollerShutter)
}

func TestThermostatTargetAlignment(t *testing.T) {
	tests := []struct {
		tempC float64
		want  int
	}{
		{20.0, 200},
		{20.3, 205},
		{20.24, 200},
		{20.75, 210},
		{18.1, 180},
	}
	for _, tc := range tests {
		if got := alignHalfDegree(tc.tempC); got != tc.want {
			t.Errorf("alignHalfDegree(%.2f) = %d, want %d", tc.tempC, got, tc.want)
		}
	}
}

func TestThermostatRejectsOutOfRangeTarget(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSThermostatMode)
	set := Compose(abilities, testDeps(cmd, abilities))
	mod, _ := set.Get(NSThermostatMode)
	th := mod.(*Thermostat)

	push := json.RawMessage(`{"mode":[{"channel":0,"state":4,"onoff":1,
		"currentTemp":215,"targetTemp":200,"min":50,"max":350,"manualTemp":200}]}`)
	if ok, err := th.HandlePush(NSThermostatMode, push); !ok || err != nil {
		t.Fatalf("seed push: %v %v", ok, err)
	}

	err := th.SetTarget(context.Background(), 0, 40.0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetTarget(40.0) = %v, want ErrInvalidArgument", err)
	}
	if cmd.callCount() != 0 {
		t.Error("out-of-range target must not reach the transport")
	}

	if err := th.SetTarget(context.Background(), 0, 21.3); err != nil {
		t.Fatalf("SetTarget(21.3): %v", err)
	}
}

func TestSystemOnlineTransitions(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)

	var transitions []model.OnlineStatus
	deps := testDeps(cmd, abilities)
	deps.Hooks.OnOnlineChange = func(s model.OnlineStatus) {
		transitions = append(transitions, s)
	}
	set := Compose(abilities, deps)
	sys, _ := set.Get(NSSystemAll)

	set.HandlePush(NSSystemOnline, json.RawMessage(`{"online":{"status":1}}`))
	set.HandlePush(NSSystemOnline, json.RawMessage(`{"online":{"status":1}}`))
	set.HandlePush(NSSystemOnline, json.RawMessage(`{"online":{"status":2}}`))

	if got := sys.(*System).Online(); got != model.OnlineStatusOffline {
		t.Errorf("Online() = %v, want offline", got)
	}
	// Repeated identical status must not refire the hook.
	if len(transitions) != 2 {
		t.Errorf("hook fired %d times, want 2: %v", len(transitions), transitions)
	}
}

func TestSystemRefreshFansOutDigest(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX, NSControlLight)
	cmd.respond(NSSystemAll, `{"all":{
		"system":{
			"hardware":{"type":"msl120","version":"4.0.0","uuid":"abc123"},
			"firmware":{"version":"4.2.8","innerIp":"192.168.1.42","userId":4321},
			"online":{"status":1}
		},
		"digest":{
			"togglex":[{"channel":0,"onoff":1}],
			"light":{"channel":0,"rgb":255,"luminance":60,"capacity":5}
		}
	}}`)

	var lan string
	deps := testDeps(cmd, abilities)
	deps.Hooks.OnLANAddress = func(addr string) { lan = addr }
	set := Compose(abilities, deps)
	sys := set.byNS[NSSystemAll].(*System)

	if err := sys.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if lan != "192.168.1.42" {
		t.Errorf("LAN hook got %q", lan)
	}
	tx := mustToggleX(t, set)
	if on, known := tx.IsOn(0); !known || !on {
		t.Errorf("togglex digest not applied: %v,%v", on, known)
	}
	light := set.byNS[NSControlLight].(*Light)
	if lum, known := light.Luminance(0); !known || lum != 60 {
		t.Errorf("light digest not applied: %d,%v", lum, known)
	}
	hw, ok := sys.Hardware()
	if !ok || hw.Type != "msl120" {
		t.Errorf("Hardware() = %+v,%v", hw, ok)
	}
}

func TestSystemUnbindHook(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)

	unbound := false
	deps := testDeps(cmd, abilities)
	deps.Hooks.OnUnbind = func() { unbound = true }
	set := Compose(abilities, deps)

	if !set.HandlePush(NSControlUnbind, json.RawMessage(`{}`)) {
		t.Fatal("unbind push not consumed")
	}
	if !unbound {
		t.Error("unbind hook not fired")
	}
}

func TestUnadvertisedPushNotConsumed(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSControlToggleX)
	set := Compose(abilities, testDeps(cmd, abilities))

	if set.HandlePush(NSGarageDoorState, json.RawMessage(`{"state":[{"channel":0,"open":1}]}`)) {
		t.Error("garage push consumed by a device with no garage module")
	}
}

func TestHubSubdeviceLifecycle(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSHubOnline, NSHubToggleX, NSHubBattery, NSHubMts100All)
	set := Compose(abilities, testDeps(cmd, abilities))
	hub := set.byNS[NSHubOnline].(*Hub)

	hub.Enroll("0001")
	if _, err := hub.Online("0001"); err != nil {
		t.Fatalf("Online(enrolled): %v", err)
	}
	if _, err := hub.Online("9999"); !errors.Is(err, ErrUnknownSubdevice) {
		t.Errorf("Online(unknown) = %v, want ErrUnknownSubdevice", err)
	}

	set.HandlePush(NSHubOnline, json.RawMessage(`{"online":[{"id":"0001","status":1}]}`))
	status, err := hub.Online("0001")
	if err != nil || status != model.OnlineStatusOnline {
		t.Errorf("Online after push = %v,%v", status, err)
	}

	hub.Retire("0001")
	if _, err := hub.Online("0001"); !errors.Is(err, ErrUnknownSubdevice) {
		t.Errorf("Online(retired) = %v, want ErrUnknownSubdevice", err)
	}
}

func TestHubValveRefreshAndTarget(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSHubOnline, NSHubMts100All, NSHubMts100Temp)
	cmd.respond(NSHubMts100All, `{"all":[{
		"id":"0001",
		"online":{"status":1},
		"togglex":{"onoff":1},
		"mode":{"state":0},
		"temperature":{"room":195,"currentSet":210,"custom":210,
			"comfort":220,"economy":175,"away":120,"min":50,"max":350,"heating":1}
	}]}`)
	set := Compose(abilities, testDeps(cmd, abilities))
	hub := set.byNS[NSHubOnline].(*Hub)
	hub.Enroll("0001")

	st, err := hub.Mts100Refresh(context.Background(), "0001")
	if err != nil {
		t.Fatalf("Mts100Refresh: %v", err)
	}
	if st.RoomC != 19.5 || st.TargetC != 21.0 || !st.Heating {
		t.Errorf("valve state = %+v", st)
	}

	if err := hub.Mts100SetTarget(context.Background(), "0001", 50.0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("target 50.0 = %v, want ErrInvalidArgument", err)
	}
	if err := hub.Mts100SetTarget(context.Background(), "0001", 22.3); err != nil {
		t.Fatalf("Mts100SetTarget: %v", err)
	}
	st, _ = hub.Mts100State("0001")
	if st.TargetC != 22.5 {
		t.Errorf("target after set = %.1f, want 22.5", st.TargetC)
	}
}

func TestHubSensorPush(t *testing.T) {
	cmd := newFakeCommander()
	abilities := abilitiesOf(NSHubOnline, NSHubSensorAll, NSHubSensorTempHum)
	set := Compose(abilities, testDeps(cmd, abilities))
	hub := set.byNS[NSHubOnline].(*Hub)

	push := json.RawMessage(`{"tempHum":[{"id":"0002",
		"latestTemperature":208,"latestHumidity":455,"latestTime":1700000000}]}`)
	if !set.HandlePush(NSHubSensorTempHum, push) {
		t.Fatal("sensor push not consumed")
	}
	sample, ok := hub.SensorLatest("0002")
	if !ok {
		t.Fatal("no sensor sample after push")
	}
	if sample.TemperatureC != 20.8 || sample.Humidity != 45.5 {
		t.Errorf("sample = %+v", sample)
	}
}
