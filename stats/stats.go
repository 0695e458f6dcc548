package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Transport labels for command counters.
const (
	TransportMQTT = "mqtt"
	TransportLAN  = "lan"
)

// Result labels for command counters.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	CommandsSent      uint64 `json:"commands_sent"`
	CommandsFailed    uint64 `json:"commands_failed"`
	CommandsTimedOut  uint64 `json:"commands_timed_out"`
	LANFallbacks      uint64 `json:"lan_fallbacks"`
	PushesReceived    uint64 `json:"pushes_received"`
	PushesDropped     uint64 `json:"pushes_dropped"`
	RateLimitDelays   uint64 `json:"rate_limit_delays"`
	RateLimitDrops    uint64 `json:"rate_limit_drops"`
	BrokerReconnects  uint64 `json:"broker_reconnects"`
	APICallsTotal     uint64 `json:"api_calls_total"`
	DevicesDiscovered uint64 `json:"devices_discovered"`
}

// Stats holds the client's operational counters.
type Stats struct {
	commandsSent      atomic.Uint64
	commandsFailed    atomic.Uint64
	commandsTimedOut  atomic.Uint64
	lanFallbacks      atomic.Uint64
	pushesReceived    atomic.Uint64
	pushesDropped     atomic.Uint64
	rateLimitDelays   atomic.Uint64
	rateLimitDrops    atomic.Uint64
	brokerReconnects  atomic.Uint64
	apiCallsTotal     atomic.Uint64
	devicesDiscovered atomic.Uint64

	commands *prometheus.CounterVec
	pushes   *prometheus.CounterVec
	limiter  *prometheus.CounterVec
	reconn   prometheus.Counter
}

// New creates a stats collector. When registerer is non-nil the
// counters are also exported as Prometheus metrics under the
// meross_client namespace.
func New(registerer prometheus.Registerer) *Stats {
	s := &Stats{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meross_client",
				Name:      "commands_total",
				Help:      "Commands executed by transport and result.",
			},
			[]string{"transport", "result"},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meross_client",
				Name:      "pushes_total",
				Help:      "Push notifications by outcome.",
			},
			[]string{"outcome"},
		),
		limiter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meross_client",
				Name:      "rate_limit_verdicts_total",
				Help:      "Rate limiter verdicts that delayed or dropped a call.",
			},
			[]string{"verdict"},
		),
		reconn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meross_client",
			Name:      "broker_reconnects_total",
			Help:      "MQTT broker reconnections.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(s.commands, s.pushes, s.limiter, s.reconn)
	}
	return s
}

// CommandSent counts one successfully acknowledged command.
func (s *Stats) CommandSent(transport string) {
	s.commandsSent.Add(1)
	s.commands.WithLabelValues(transport, ResultOK).Inc()
}

// CommandFailed counts one failed command.
func (s *Stats) CommandFailed(transport string) {
	s.commandsFailed.Add(1)
	s.commands.WithLabelValues(transport, ResultError).Inc()
}

// CommandTimedOut counts one command that never received its ACK.
func (s *Stats) CommandTimedOut(transport string) {
	s.commandsTimedOut.Add(1)
	s.commands.WithLabelValues(transport, ResultTimeout).Inc()
}

// LANFallback counts one command that fell back from LAN to the
// broker.
func (s *Stats) LANFallback() {
	s.lanFallbacks.Add(1)
}

// PushReceived counts one push notification delivered to the registry.
func (s *Stats) PushReceived() {
	s.pushesReceived.Add(1)
	s.pushes.WithLabelValues("received").Inc()
}

// PushDropped counts one push no capability consumed.
func (s *Stats) PushDropped() {
	s.pushesDropped.Add(1)
	s.pushes.WithLabelValues("dropped").Inc()
}

// RateLimitDelayed counts one delayed call.
func (s *Stats) RateLimitDelayed() {
	s.rateLimitDelays.Add(1)
	s.limiter.WithLabelValues("delayed").Inc()
}

// RateLimitDropped counts one dropped call.
func (s *Stats) RateLimitDropped() {
	s.rateLimitDrops.Add(1)
	s.limiter.WithLabelValues("dropped").Inc()
}

// BrokerReconnect counts one broker reconnection.
func (s *Stats) BrokerReconnect() {
	s.brokerReconnects.Add(1)
	s.reconn.Inc()
}

// APICall counts one cloud HTTP API call.
func (s *Stats) APICall() {
	s.apiCallsTotal.Add(1)
}

// DeviceDiscovered counts one newly composed device.
func (s *Stats) DeviceDiscovered() {
	s.devicesDiscovered.Add(1)
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		CommandsSent:      s.commandsSent.Load(),
		CommandsFailed:    s.commandsFailed.Load(),
		CommandsTimedOut:  s.commandsTimedOut.Load(),
		LANFallbacks:      s.lanFallbacks.Load(),
		PushesReceived:    s.pushesReceived.Load(),
		PushesDropped:     s.pushesDropped.Load(),
		RateLimitDelays:   s.rateLimitDelays.Load(),
		RateLimitDrops:    s.rateLimitDrops.Load(),
		BrokerReconnects:  s.brokerReconnects.Load(),
		APICallsTotal:     s.apiCallsTotal.Load(),
		DevicesDiscovered: s.devicesDiscovered.Load(),
	}
}
