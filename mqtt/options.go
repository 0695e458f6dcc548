package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// connection and for each subscription acknowledgement.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending
	// operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// defaultInitialReconnectDelay seeds the reconnect backoff.
	defaultInitialReconnectDelay = 1 * time.Second

	// defaultMaxReconnectDelay caps the reconnect backoff.
	defaultMaxReconnectDelay = 60 * time.Second

	// commandQoS is the delivery guarantee for every request publish.
	commandQoS = 1

	// tlsMinVersion is the minimum TLS version for the broker session.
	tlsMinVersion = tls.VersionTLS12
)

// Config holds MQTT transport settings. Host and Port normally come
// from the device inventory; zero durations fall back to defaults.
type Config struct {
	// Host is the broker domain, e.g. from DeviceInfo.BrokerDomain().
	Host string `yaml:"host"`

	// Port is the TLS broker port. Defaults to the platform port.
	Port int `yaml:"port"`

	// CACertFile optionally pins the broker CA. System roots otherwise.
	CACertFile string `yaml:"ca_cert_file"`

	// DisableAutoReconnect stops the paho loop from retrying after a
	// connection loss. Publishes then fail with ErrNotConnected.
	DisableAutoReconnect bool `yaml:"disable_auto_reconnect"`

	// InitialReconnectDelay seeds the reconnect backoff.
	InitialReconnectDelay time.Duration `yaml:"initial_reconnect_delay"`

	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// identity is the per-session MQTT identity derived from credentials.
//
// appID is a fresh MD5 computed once per session, so each Transport gets
// its own response topic and a restarted client never sees stale ACKs.
type identity struct {
	appID         string
	clientID      string
	username      string
	password      string
	responseTopic string
	pushTopic     string
}

// newIdentity derives the session identity from account credentials.
func newIdentity(creds model.Credentials) identity {
	appID := envelope.MD5Hex("API" + uuid.NewString())
	return identity{
		appID:         appID,
		clientID:      "app:" + appID,
		username:      creds.UserID,
		password:      envelope.MD5Hex(creds.UserID + creds.Key),
		responseTopic: ClientResponseTopic(creds.UserID, appID),
		pushTopic:     UserPushTopic(creds.UserID),
	}
}

// buildClientOptions creates paho options for the vendor broker.
//
// The broker requires TLS and authenticates with username = userId,
// password = md5(userId || key).
func buildClientOptions(cfg Config, id identity) (*pahomqtt.ClientOptions, error) {
	port := cfg.Port
	if port <= 0 {
		port = model.DefaultMQTTPort
	}

	initialDelay := cfg.InitialReconnectDelay
	if initialDelay <= 0 {
		initialDelay = defaultInitialReconnectDelay
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}

	tlsConfig := &tls.Config{MinVersion: tlsMinVersion}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading ca cert: %w", ErrConnectionFailed, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrConnectionFailed, cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, port))
	opts.SetClientID(id.clientID)
	opts.SetUsername(id.username)
	opts.SetPassword(id.password)
	opts.SetTLSConfig(tlsConfig)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(!cfg.DisableAutoReconnect)
	opts.SetConnectRetryInterval(initialDelay)
	opts.SetMaxReconnectInterval(maxDelay)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts, nil
}
