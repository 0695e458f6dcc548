package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// Logger defines the logging interface used by the Transport.
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

// PushHandler receives verified device pushes from the broker worker.
// sentAt is the device-stamped envelope timestamp, used downstream to
// discard pushes the broker delivered out of order.
//
// Handlers run on the paho worker goroutine; implementations must hand
// work to their own scheduler before touching shared state and must not
// block.
type PushHandler func(deviceUUID, namespace string, payload json.RawMessage, sentAt time.Time)

// Transport is the authenticated MQTT session to the vendor broker.
//
// One Transport serves one account session: it subscribes the client
// response topic and the user push topic, correlates outbound requests
// with ACKs by message id, and routes pushes to the registered handler.
type Transport struct {
	client pahomqtt.Client
	cfg    Config
	id     identity
	key    string

	pending *pendingTable

	// subscribed gates publishes: the session is usable only after both
	// subscriptions are acknowledged, and again after re-subscription on
	// reconnect.
	subscribed bool
	closed     bool
	stateMu    sync.RWMutex

	pushHandler PushHandler
	pushMu      sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// publish is a seam so correlation logic is testable without a
	// broker; production wiring points it at the paho client.
	publish func(topic string, data []byte) error
}

// Connect establishes the TLS session and blocks until both listening
// topics are subscribed, or fails.
//
// Parameters:
//   - cfg: broker location and reconnect policy
//   - creds: account credentials from login; Key verifies every inbound
//     signature and derives the broker password
//
// Returns:
//   - *Transport: ready session
//   - error: ErrConnectionFailed or ErrSubscribeFailed
func Connect(cfg Config, creds model.Credentials) (*Transport, error) {
	if !creds.Valid() {
		return nil, fmt.Errorf("%w: incomplete credentials", ErrConnectionFailed)
	}

	id := newIdentity(creds)
	opts, err := buildClientOptions(cfg, id)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:     cfg,
		id:      id,
		key:     creds.Key,
		pending: newPendingTable(),
		logger:  noopLogger{},
	}
	t.publish = t.publishPaho

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		t.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleDisconnect(err)
	})

	t.client = pahomqtt.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback also subscribes, but init must block the
	// caller until readiness, so subscribe here and tolerate the
	// duplicate; the broker treats repeat subscriptions as idempotent.
	if err := t.subscribeAll(); err != nil {
		t.client.Disconnect(defaultDisconnectQuiesce)
		return nil, err
	}

	t.stateMu.Lock()
	t.subscribed = true
	t.stateMu.Unlock()

	return t, nil
}

// ResponseTopic returns the per-session topic devices reply on. It is
// the required envelope "from" value for outbound requests.
func (t *Transport) ResponseTopic() string {
	return t.id.responseTopic
}

// AppID returns the per-session app id.
func (t *Transport) AppID() string {
	return t.id.appID
}

// SetLogger sets a logger for transport events.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	defer t.loggerMu.Unlock()
	if logger != nil {
		t.logger = logger
	}
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// SetPushHandler registers the sink for verified device pushes.
func (t *Transport) SetPushHandler(handler PushHandler) {
	t.pushMu.Lock()
	t.pushHandler = handler
	t.pushMu.Unlock()
}

// SetOnConnect sets a callback invoked after every (re)connection once
// subscriptions are restored.
func (t *Transport) SetOnConnect(callback func()) {
	t.callbackMu.Lock()
	t.onConnect = callback
	t.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (t *Transport) SetOnDisconnect(callback func(err error)) {
	t.callbackMu.Lock()
	t.onDisconnect = callback
	t.callbackMu.Unlock()
}

// IsReady reports whether the session is connected and subscribed.
func (t *Transport) IsReady() bool {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.subscribed && !t.closed && t.client != nil && t.client.IsConnected()
}

// PendingCount returns the number of requests awaiting ACKs.
func (t *Transport) PendingCount() int {
	return t.pending.size()
}

// PublishAndWait publishes a signed envelope to the device request topic
// and blocks until the matching ACK, context cancellation, or deadline.
//
// Parameters:
//   - ctx: carries the request deadline; expiry surfaces as
//     ErrCommandTimeout with the pending entry removed atomically
//   - deviceUUID: target device
//   - data: the marshalled envelope from the envelope package
//   - messageID: correlation id embedded in data's header
//   - requiredAckMethod: MethodGetAck or MethodSetAck; ACKs with any
//     other method are dropped
//
// Returns:
//   - json.RawMessage: the ACK payload
//   - error: ErrNotConnected, ErrCommandTimeout, ErrClosed, or a
//     cancellation error from ctx
func (t *Transport) PublishAndWait(ctx context.Context, deviceUUID string, data []byte, messageID, requiredAckMethod string) (json.RawMessage, error) {
	if !t.IsReady() {
		return nil, ErrNotConnected
	}

	done, err := t.pending.add(messageID, requiredAckMethod)
	if err != nil {
		return nil, err
	}

	if err := t.publish(DeviceRequestTopic(deviceUUID), data); err != nil {
		t.pending.remove(messageID)
		return nil, err
	}

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		t.pending.remove(messageID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: message %s", ErrCommandTimeout, messageID)
		}
		return nil, ctx.Err()
	}
}

// Close unsubscribes, disconnects, and fails all pending requests. The
// pending table is empty on return.
func (t *Transport) Close() error {
	t.stateMu.Lock()
	if t.closed {
		t.stateMu.Unlock()
		return nil
	}
	t.closed = true
	t.subscribed = false
	t.stateMu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		token := t.client.Unsubscribe(t.id.responseTopic, t.id.pushTopic)
		token.WaitTimeout(defaultConnectTimeout)
		t.client.Disconnect(defaultDisconnectQuiesce)
	}

	t.pending.failAll(ErrClosed)
	return nil
}

// publishPaho is the production publish path.
func (t *Transport) publishPaho(topic string, data []byte) error {
	token := t.client.Publish(topic, commandQoS, false, data)
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// subscribeAll subscribes both listening topics and waits for each
// acknowledgement.
func (t *Transport) subscribeAll() error {
	for _, topic := range []string{t.id.responseTopic, t.id.pushTopic} {
		token := t.client.Subscribe(topic, commandQoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			t.handleMessage(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(defaultConnectTimeout) {
			return fmt.Errorf("%w: timeout subscribing %s", ErrSubscribeFailed, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	}
	return nil
}

// handleConnect restores subscriptions after a (re)connection. Delivery
// resumes only once both subscribes are acknowledged.
func (t *Transport) handleConnect() {
	t.stateMu.RLock()
	closed := t.closed
	t.stateMu.RUnlock()
	if closed {
		return
	}

	if err := t.subscribeAll(); err != nil {
		t.getLogger().Error("restoring subscriptions after reconnect", "error", err)
		return
	}

	t.stateMu.Lock()
	t.subscribed = true
	t.stateMu.Unlock()

	t.callbackMu.RLock()
	callback := t.onConnect
	t.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect marks the session unusable until re-subscription.
// Pending requests are left in place; their deadlines fail them as
// timeouts if the reconnect window outlasts them.
func (t *Transport) handleDisconnect(err error) {
	t.stateMu.Lock()
	t.subscribed = false
	t.stateMu.Unlock()

	t.getLogger().Warn("mqtt connection lost", "error", err)

	t.callbackMu.RLock()
	callback := t.onDisconnect
	t.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// handleMessage is the single inbound entry point from the broker
// worker. Every message is signature-verified before routing:
//
//   - response topic + GETACK/SETACK completes the pending request with
//     the matching message id
//   - push topic + PUSH hands (uuid, namespace, payload, timestamp) to
//     the push handler, with the uuid taken from header.from
//   - anything else is logged and dropped
func (t *Transport) handleMessage(topic string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.getLogger().Error("mqtt handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	log := t.getLogger()

	msg, err := envelope.Decode(data)
	if err != nil {
		log.Error("dropping malformed message", "topic", topic, "error", err)
		return
	}
	if err := envelope.Verify(msg.Header, t.key); err != nil {
		log.Error("dropping message with invalid signature",
			"topic", topic,
			"message_id", msg.Header.MessageID,
			"namespace", msg.Header.Namespace,
		)
		return
	}

	switch {
	case topic == t.id.responseTopic && msg.Header.IsAck():
		if !t.pending.complete(msg.Header.MessageID, msg.Header.Method, msg.Payload) {
			// Late ACK after timeout or cancellation.
			log.Warn("dropping ack with no pending request",
				"message_id", msg.Header.MessageID,
				"method", msg.Header.Method,
				"namespace", msg.Header.Namespace,
			)
		}

	case topic == t.id.pushTopic && msg.Header.Method == envelope.MethodPush:
		deviceUUID, ok := DeviceUUIDFromTopic(msg.Header.From)
		if !ok {
			log.Warn("dropping push with unparseable origin", "from", msg.Header.From)
			return
		}
		t.pushMu.RLock()
		handler := t.pushHandler
		t.pushMu.RUnlock()
		if handler != nil {
			handler(deviceUUID, msg.Header.Namespace, msg.Payload,
				time.Unix(msg.Header.Timestamp, 0))
		}

	default:
		log.Warn("dropping message with unexpected routing",
			"topic", topic,
			"method", msg.Header.Method,
			"namespace", msg.Header.Namespace,
		)
	}
}
