package meross

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/meross-go/apiclient"
	"github.com/nerrad567/meross-go/capability"
	"github.com/nerrad567/meross-go/device"
	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/history"
	"github.com/nerrad567/meross-go/lanhttp"
	"github.com/nerrad567/meross-go/model"
	"github.com/nerrad567/meross-go/mqtt"
	"github.com/nerrad567/meross-go/ratelimit"
	"github.com/nerrad567/meross-go/stats"
	"github.com/nerrad567/meross-go/telemetry"
)

// Logger defines the logging interface used by the Manager.
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

// PushHandler receives every push notification after the owning
// device's capability chain has run.
type PushHandler func(deviceUUID, namespace string, payload json.RawMessage)

// Default command timeouts. Hub and thermostat hardware answers
// slowly; battery-powered subdevices may need several seconds.
const (
	defaultCommandTimeout    = 5 * time.Second
	defaultHubCommandTimeout = 30 * time.Second

	// historyWriteTimeout bounds the history insert on the push path.
	historyWriteTimeout = 2 * time.Second
)

// cloudAPI is the slice of the HTTP client the manager uses.
type cloudAPI interface {
	Login(ctx context.Context, email, password string) (model.Credentials, error)
	ListDevices(ctx context.Context) ([]model.DeviceInfo, error)
	ListHubSubdevices(ctx context.Context, hubUUID string) ([]model.SubdeviceInfo, error)
	Logout(ctx context.Context) error
	SetCredentials(creds model.Credentials)
}

// commandTransport is the slice of the MQTT transport the manager
// uses.
type commandTransport interface {
	PublishAndWait(ctx context.Context, deviceUUID string, data []byte, messageID, requiredAckMethod string) (json.RawMessage, error)
	ResponseTopic() string
	IsReady() bool
	SetPushHandler(handler mqtt.PushHandler)
	SetOnConnect(callback func())
	Close() error
}

// lanExecutor is the slice of the LAN HTTP client the manager uses.
type lanExecutor interface {
	Execute(ctx context.Context, address string, data []byte, key, requiredAckMethod string) ([]byte, error)
}

// Config assembles a Manager.
type Config struct {
	// Email and Password authenticate against the vendor cloud.
	// Ignored when Credentials is set.
	Email    string
	Password string

	// Credentials, when non-nil, skips the login round trip. Obtain
	// them from a previous session's SaveSnapshot or Credentials().
	Credentials *model.Credentials

	// BaseURL overrides the HTTPS API endpoint. Empty uses the
	// default region endpoint.
	BaseURL string

	// ProxyURL routes API traffic through an HTTP proxy.
	ProxyURL string

	// HTTPTimeout bounds each API request.
	HTTPTimeout time.Duration

	// TransportMode selects MQTT-only or LAN-first execution.
	TransportMode TransportMode

	// CACertFile optionally pins the broker CA certificate.
	CACertFile string

	// CommandTimeout is the default ACK wait. Zero means 5s.
	CommandTimeout time.Duration

	// HubCommandTimeout is the ACK wait for Appliance.Hub.* and
	// thermostat commands. Zero means 30s.
	HubCommandTimeout time.Duration

	// RateLimit overrides the limiter configuration. Nil uses
	// defaults sized for the vendor broker's tolerance.
	RateLimit *ratelimit.Config

	// SnapshotPath, when set, is where SaveSnapshot persists the
	// fleet and where Init looks for a previous session.
	SnapshotPath string

	// History, when non-nil, records every push notification.
	History *history.Store

	// Telemetry, when non-nil, receives electrical and environmental
	// samples.
	Telemetry *telemetry.Writer

	// Registerer, when non-nil, exports operational counters as
	// Prometheus metrics.
	Registerer prometheus.Registerer

	// Logger receives structured log events. Nil discards them.
	Logger Logger
}

// Manager owns a fleet session: credentials, discovery, transports,
// rate limiting and push routing.
type Manager struct {
	log       Logger
	api       cloudAPI
	lan       lanExecutor
	limiter   *ratelimit.Limiter
	registry  *device.Registry
	composer  *capability.Composer
	stats     *stats.Stats
	history   *history.Store
	telemetry *telemetry.Writer

	mode         TransportMode
	caCertFile   string
	cmdTimeout   time.Duration
	hubTimeout   time.Duration
	snapshotPath string

	credsEmail    string
	credsPassword string

	mu        sync.RWMutex
	transport commandTransport
	creds     model.Credentials
	closed    bool

	handlerMu   sync.RWMutex
	handlers    map[int]PushHandler
	nextHandler int
}

// New builds a Manager. No network traffic happens until Init.
func New(cfg Config) (*Manager, error) {
	if cfg.Credentials == nil && (cfg.Email == "" || cfg.Password == "") {
		return nil, ErrNoCredentials
	}
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	api, err := apiclient.NewClient(apiclient.Config{
		BaseURL:  cfg.BaseURL,
		ProxyURL: cfg.ProxyURL,
		Timeout:  cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building api client: %w", err)
	}
	if l, ok := log.(apiclient.Logger); ok {
		api.SetLogger(l)
	}

	limitCfg := defaultRateLimit()
	if cfg.RateLimit != nil {
		limitCfg = *cfg.RateLimit
	}

	cmdTimeout := cfg.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = defaultCommandTimeout
	}
	hubTimeout := cfg.HubCommandTimeout
	if hubTimeout <= 0 {
		hubTimeout = defaultHubCommandTimeout
	}

	m := &Manager{
		log:          log,
		api:          api,
		lan:          lanhttp.NewClient(lanhttp.Config{}),
		limiter:      ratelimit.New(limitCfg),
		registry:     device.NewRegistry(log),
		composer:     capability.NewComposer(),
		stats:        stats.New(cfg.Registerer),
		history:      cfg.History,
		telemetry:    cfg.Telemetry,
		mode:         cfg.TransportMode,
		caCertFile:   cfg.CACertFile,
		cmdTimeout:   cmdTimeout,
		hubTimeout:   hubTimeout,
		snapshotPath: cfg.SnapshotPath,
		handlers:     make(map[int]PushHandler),
	}
	if cfg.Credentials != nil {
		m.creds = *cfg.Credentials
	}
	m.credsEmail = cfg.Email
	m.credsPassword = cfg.Password
	return m, nil
}

// defaultRateLimit sizes the limiter for the vendor broker: a small
// global burst with steady refill, and one in-flight command per
// device per second.
func defaultRateLimit() ratelimit.Config {
	return ratelimit.Config{
		Global: ratelimit.BucketConfig{
			BurstCapacity:     6,
			RefillInterval:    time.Second,
			TokensPerInterval: 2,
		},
		PerDevice: ratelimit.BucketConfig{
			BurstCapacity:     1,
			RefillInterval:    time.Second,
			TokensPerInterval: 1,
		},
	}
}

// Init establishes the session: it authenticates (unless credentials
// were supplied), restores a fleet snapshot when one exists, and
// connects the MQTT transport, blocking until both subscriptions are
// live.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	creds := m.creds
	m.mu.Unlock()

	if m.snapshotPath != "" {
		if snap, err := loadSnapshot(m.snapshotPath); err == nil {
			m.restoreDevices(snap)
			if !creds.Valid() && snap.Credentials.Valid() {
				creds = snap.Credentials
				m.log.Info("session restored from snapshot",
					"path", m.snapshotPath, "user_id", creds.UserID)
			}
		}
	}

	if !creds.Valid() {
		var err error
		creds, err = m.api.Login(ctx, m.credsEmail, m.credsPassword)
		if err != nil {
			return fmt.Errorf("logging in: %w", err)
		}
		m.stats.APICall()
		m.log.Info("logged in", "user_id", creds.UserID)
	}
	m.api.SetCredentials(creds)

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	return m.connectTransport(creds)
}

// connectTransport dials the broker for the session's credentials and
// wires push routing.
func (m *Manager) connectTransport(creds model.Credentials) error {
	host, port := m.brokerAddress()
	transport, err := mqtt.Connect(mqtt.Config{
		Host:       host,
		Port:       port,
		CACertFile: m.caCertFile,
	}, creds)
	if err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	if l, ok := m.log.(mqtt.Logger); ok {
		transport.SetLogger(l)
	}
	transport.SetPushHandler(m.handlePush)
	transport.SetOnConnect(func() { m.stats.BrokerReconnect() })

	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()
	return nil
}

// brokerAddress picks the broker endpoint: any known device's
// reported domain wins over the platform default, so a restored
// snapshot reconnects to the right regional broker.
func (m *Manager) brokerAddress() (string, int) {
	for _, d := range m.registry.All() {
		info := d.Info()
		if info.MQTTDomain != "" {
			return info.BrokerDomain(), info.BrokerPort()
		}
	}
	return model.DefaultMQTTDomain, 0
}

// Credentials returns the session credentials for reuse in a later
// session.
func (m *Manager) Credentials() model.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// History returns the push history store, or nil when history is
// disabled.
func (m *Manager) History() *history.Store {
	return m.history
}

// Stats returns a snapshot of the operational counters.
func (m *Manager) Stats() stats.Snapshot {
	return m.stats.Snapshot()
}

// LimiterStats returns the rate limiter's verdict counters.
func (m *Manager) LimiterStats() ratelimit.Stats {
	return m.limiter.Stats()
}

// Devices returns every enrolled device.
func (m *Manager) Devices() []*device.Device {
	return m.registry.All()
}

// Device returns the device for a UUID.
func (m *Manager) Device(uuid string) (*device.Device, error) {
	return m.registry.Get(uuid)
}

// Find returns the devices matching the predicate.
func (m *Manager) Find(match func(*device.Device) bool) []*device.Device {
	return m.registry.Find(match)
}

// FindByName returns the devices with the given user-assigned name.
func (m *Manager) FindByName(name string) []*device.Device {
	return m.registry.FindByName(name)
}

// FindByType returns the devices with the given model identifier.
func (m *Manager) FindByType(deviceType string) []*device.Device {
	return m.registry.FindByType(deviceType)
}

// RegisterPushHandler adds a handler that observes every push after
// capability processing. The returned id unregisters it.
func (m *Manager) RegisterPushHandler(handler PushHandler) int {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = handler
	return id
}

// UnregisterPushHandler removes a previously registered handler.
func (m *Manager) UnregisterPushHandler(id int) {
	m.handlerMu.Lock()
	delete(m.handlers, id)
	m.handlerMu.Unlock()
}

// handlePush routes one broker push: record, dispatch to the owning
// device's capability chain, then fan out to observers. sentAt is the
// device-stamped envelope timestamp; the device drops pushes that are
// older than state it already applied.
func (m *Manager) handlePush(deviceUUID, namespace string, payload json.RawMessage, sentAt time.Time) {
	m.stats.PushReceived()

	if m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		if err := m.history.Record(ctx, deviceUUID, namespace, payload); err != nil {
			m.log.Warn("recording push history", "uuid", deviceUUID, "error", err)
		}
		cancel()
	}

	d, err := m.registry.Get(deviceUUID)
	if err != nil {
		m.stats.PushDropped()
		m.log.Warn("push for unknown device", "uuid", deviceUUID, "namespace", namespace)
		return
	}
	if !d.HandlePush(namespace, payload, sentAt) {
		m.stats.PushDropped()
		m.log.Warn("push not consumed by any capability",
			"uuid", deviceUUID, "namespace", namespace)
	}

	m.handlerMu.RLock()
	observers := make([]PushHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		observers = append(observers, h)
	}
	m.handlerMu.RUnlock()
	for _, h := range observers {
		h(deviceUUID, namespace, payload)
	}
}

// ExecuteFor implements device.Executor: it rate limits, chooses a
// transport and runs one command against a device.
func (m *Manager) ExecuteFor(ctx context.Context, deviceUUID, method, namespace string, payload any) (json.RawMessage, error) {
	return m.executeVia(ctx, deviceUUID, method, namespace, payload, m.mode)
}

// ExecuteCommandVia is ExecuteFor with a per-call transport mode
// override, for callers that must force a specific path regardless of
// the configured default.
func (m *Manager) ExecuteCommandVia(ctx context.Context, deviceUUID, method, namespace string, payload any, mode TransportMode) (json.RawMessage, error) {
	return m.executeVia(ctx, deviceUUID, method, namespace, payload, mode)
}

func (m *Manager) executeVia(ctx context.Context, deviceUUID, method, namespace string, payload any, mode TransportMode) (json.RawMessage, error) {
	m.mu.RLock()
	transport := m.transport
	creds := m.creds
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	// Reject namespaces the device never advertised before spending a
	// rate-limit token. Unregistered devices pass through: the ability
	// fetch during enrollment runs before registration.
	if d, err := m.registry.Get(deviceUUID); err == nil && !d.Supports(namespace) {
		return nil, fmt.Errorf("device %s: namespace %s: %w", deviceUUID, namespace, capability.ErrUnsupported)
	}

	if err := m.waitForSlot(ctx, deviceUUID); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeoutFor(namespace))
		defer cancel()
	}

	ackMethod := envelope.MethodGetAck
	if method == envelope.MethodSet {
		ackMethod = envelope.MethodSetAck
	}

	data, messageID, err := envelope.Build(method, namespace, payload, transport.ResponseTopic(), creds.Key)
	if err != nil {
		return nil, fmt.Errorf("building command: %w", err)
	}

	if useLAN(mode, method) {
		if resp, ok := m.tryLAN(ctx, deviceUUID, data, creds.Key, ackMethod); ok {
			return resp, nil
		}
	}

	resp, err := transport.PublishAndWait(ctx, deviceUUID, data, messageID, ackMethod)
	switch {
	case err == nil:
		m.stats.CommandSent(stats.TransportMQTT)
		return resp, nil
	case errors.Is(err, mqtt.ErrCommandTimeout) || errors.Is(err, context.DeadlineExceeded):
		m.stats.CommandTimedOut(stats.TransportMQTT)
		return nil, err
	default:
		m.stats.CommandFailed(stats.TransportMQTT)
		return nil, err
	}
}

// waitForSlot blocks until the limiter permits the call, honouring
// backoff delays and surfacing drops.
func (m *Manager) waitForSlot(ctx context.Context, deviceUUID string) error {
	verdict := m.limiter.Check(deviceUUID)
	for verdict.Decision == ratelimit.DelayCall {
		m.stats.RateLimitDelayed()
		select {
		case <-ctx.Done():
			m.limiter.Cancel(deviceUUID)
			return ctx.Err()
		case <-time.After(verdict.Delay):
		}
		verdict = m.limiter.CheckQueued(deviceUUID)
	}
	if verdict.Decision == ratelimit.DropCall {
		m.stats.RateLimitDropped()
		return fmt.Errorf("device %s: %w", deviceUUID, ratelimit.ErrRateLimited)
	}
	return nil
}

// timeoutFor returns the ACK wait for a namespace. Hub and thermostat
// namespaces get the long timeout.
func (m *Manager) timeoutFor(namespace string) time.Duration {
	if strings.HasPrefix(namespace, "Appliance.Hub.") ||
		namespace == capability.NSThermostatMode {
		return m.hubTimeout
	}
	return m.cmdTimeout
}

// useLAN reports whether the mode allows the LAN fast path for this
// method.
func useLAN(mode TransportMode, method string) bool {
	switch mode {
	case TransportLANFirst:
		return true
	case TransportLANFirstOnlyGET:
		return method == envelope.MethodGet
	default:
		return false
	}
}

// tryLAN attempts the LAN fast path. Any failure falls back to the
// broker without surfacing an error.
func (m *Manager) tryLAN(ctx context.Context, deviceUUID string, data []byte, key, ackMethod string) (json.RawMessage, bool) {
	d, err := m.registry.Get(deviceUUID)
	if err != nil {
		return nil, false
	}
	addr := d.LANAddress()
	if addr == "" {
		return nil, false
	}
	resp, err := m.lan.Execute(ctx, addr, data, key, ackMethod)
	if err != nil {
		m.stats.LANFallback()
		m.log.Debug("lan execution failed, falling back to broker",
			"uuid", deviceUUID, "address", addr, "error", err)
		return nil, false
	}
	m.stats.CommandSent(stats.TransportLAN)
	return resp, true
}

// HealthCheck verifies the broker connection and the auxiliary
// stores.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	transport := m.transport
	m.mu.RUnlock()
	if transport == nil {
		return ErrNotInitialized
	}
	if !transport.IsReady() {
		return mqtt.ErrNotConnected
	}
	if m.history != nil {
		if err := m.history.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}
	if m.telemetry != nil {
		if err := m.telemetry.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

// Logout invalidates the session token with the cloud. Call it only
// when the token should not be reused; the vendor caps concurrent
// tokens per account.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.api.Logout(ctx); err != nil {
		return err
	}
	m.stats.APICall()
	m.mu.Lock()
	m.creds = model.Credentials{}
	m.mu.Unlock()
	return nil
}

// Close persists a snapshot when configured, shuts the transport down
// and flushes telemetry. The session token stays valid for reuse.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	transport := m.transport
	m.transport = nil
	m.mu.Unlock()

	if m.snapshotPath != "" {
		if err := m.SaveSnapshot(m.snapshotPath); err != nil {
			m.log.Warn("saving snapshot on close", "error", err)
		}
	}

	var errs []error
	if transport != nil {
		if err := transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.telemetry != nil {
		if err := m.telemetry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.history != nil {
		if err := m.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
