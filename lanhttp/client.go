package lanhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/meross-go/envelope"
)

// Domain-specific errors for the LAN transport.
var (
	// ErrRequestFailed covers network errors and non-success HTTP
	// statuses. The manager treats it as the trigger for MQTT fallback.
	ErrRequestFailed = errors.New("lanhttp: request failed")

	// ErrNoAddress is returned when the target device has not revealed
	// a LAN address yet.
	ErrNoAddress = errors.New("lanhttp: device has no lan address")

	// ErrUnexpectedReply is returned when the device answers with a
	// verified envelope whose method is not the required ACK.
	ErrUnexpectedReply = errors.New("lanhttp: unexpected reply method")
)

// defaultRequestTimeout bounds one LAN exchange. LAN devices answer in
// tens of milliseconds; anything longer means the address is stale.
const defaultRequestTimeout = 3 * time.Second

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds LAN transport settings.
type Config struct {
	// Timeout bounds one exchange. Defaults to 3s.
	Timeout time.Duration `yaml:"timeout"`
}

// Client posts signed envelopes to devices on the local network.
type Client struct {
	http   *http.Client
	logger Logger
}

// NewClient creates a LAN transport client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Execute posts the envelope to the device and returns the verified ACK
// payload.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - address: device LAN host or host:port
//   - data: the marshalled request envelope
//   - key: the per-user key for reply verification
//   - requiredAckMethod: MethodGetAck or MethodSetAck
//
// Returns:
//   - []byte: the ACK payload
//   - error: ErrNoAddress, ErrRequestFailed, envelope verification
//     errors, or ErrUnexpectedReply
func (c *Client) Execute(ctx context.Context, address string, data []byte, key, requiredAckMethod string) ([]byte, error) {
	if address == "" {
		return nil, ErrNoAddress
	}

	url := fmt.Sprintf("http://%s/config", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %w", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %s", ErrRequestFailed, resp.Status)
	}

	msg, err := envelope.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := envelope.Verify(msg.Header, key); err != nil {
		c.logger.Warn("dropping lan reply with invalid signature", "address", address)
		return nil, err
	}
	if msg.Header.Method != requiredAckMethod {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, msg.Header.Method, requiredAckMethod)
	}

	return msg.Payload, nil
}
