package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meross-go/envelope"
	"github.com/nerrad567/meross-go/model"
)

// API endpoint paths, all rooted at the configured base URL.
const (
	pathLogin         = "/v1/Auth/Login"
	pathDeviceList    = "/v1/Device/devList"
	pathHubSubdevices = "/v1/Hub/getSubDevices"
	pathLogout        = "/v1/Profile/logout"
)

// DefaultBaseURL is the production vendor endpoint.
const DefaultBaseURL = "https://iot.meross.com"

// defaultRequestTimeout bounds a single API round trip.
const defaultRequestTimeout = 30 * time.Second

// Logger defines the logging interface used by the Client.
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

// Config holds the HTTP API client settings.
type Config struct {
	// BaseURL overrides the production endpoint, mainly for tests and
	// regional accounts. Defaults to DefaultBaseURL.
	BaseURL string `yaml:"base_url"`

	// ProxyURL routes all API traffic through an HTTP proxy when set.
	ProxyURL string `yaml:"proxy_url"`

	// Timeout bounds one request round trip. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// Client is the vendor HTTP API client.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL string
	http    *http.Client
	logger  Logger

	credsMu sync.RWMutex
	creds   *model.Credentials
}

// NewClient creates an API client from cfg.
//
// Returns an error only when the proxy URL cannot be parsed.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	transport := http.DefaultTransport
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("apiclient: parsing proxy url: %w", err)
		}
		clone, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("apiclient: unexpected default transport type")
		}
		t := clone.Clone()
		t.Proxy = http.ProxyURL(proxyURL)
		transport = t
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Credentials returns the current credentials and whether any are held.
func (c *Client) Credentials() (model.Credentials, bool) {
	c.credsMu.RLock()
	defer c.credsMu.RUnlock()
	if c.creds == nil {
		return model.Credentials{}, false
	}
	return *c.creds, true
}

// SetCredentials installs credentials obtained elsewhere, typically from
// a registry snapshot, so authenticated calls work without a fresh login.
func (c *Client) SetCredentials(creds model.Credentials) {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	c.creds = &creds
}

// loginData is the wire shape of the login response data.
type loginData struct {
	Token  string `json:"token"`
	Key    string `json:"key"`
	UserID string `json:"userid"`
	Email  string `json:"email"`
}

// Login authenticates the account and stores the issued credentials for
// subsequent calls.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - email: Account email
//   - password: Account password
//
// Returns:
//   - model.Credentials: Token, signing key, user id, and email
//   - error: ErrBadLogin, ErrWrongRegion, ErrTooManyTokens, or an
//     APIError for other non-zero apiStatus values
func (c *Client) Login(ctx context.Context, email, password string) (model.Credentials, error) {
	data, err := c.post(ctx, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return model.Credentials{}, err
	}

	var ld loginData
	if err := json.Unmarshal(data, &ld); err != nil {
		return model.Credentials{}, fmt.Errorf("apiclient: decoding login response: %w", err)
	}

	creds := model.Credentials{
		Token:     ld.Token,
		Key:       ld.Key,
		UserID:    ld.UserID,
		UserEmail: ld.Email,
		IssuedAt:  time.Now().UTC(),
	}
	if !creds.Valid() {
		return model.Credentials{}, fmt.Errorf("apiclient: login response missing credential fields")
	}

	c.credsMu.Lock()
	c.creds = &creds
	c.credsMu.Unlock()

	c.logger.Info("logged in", "user_id", creds.UserID, "email", creds.UserEmail)
	return creds, nil
}

// rawChannel is the wire shape of a channel entry in the device list.
// The master channel of a multi-way device is typically an empty object.
type rawChannel struct {
	Type    string `json:"type,omitempty"`
	DevName string `json:"devName,omitempty"`
}

// rawDevice is the wire shape of one device in the inventory listing.
type rawDevice struct {
	UUID           string       `json:"uuid"`
	OnlineStatus   int          `json:"onlineStatus"`
	DevName        string       `json:"devName"`
	DevIconID      string       `json:"devIconId"`
	BindTime       int64        `json:"bindTime"`
	DeviceType     string       `json:"deviceType"`
	SubType        string       `json:"subType"`
	Channels       []rawChannel `json:"channels"`
	Region         string       `json:"region"`
	FmwareVersion  string       `json:"fmwareVersion"`
	HdwareVersion  string       `json:"hdwareVersion"`
	Domain         string       `json:"domain"`
	ReservedDomain string       `json:"reservedDomain"`
	SkillNumber    string       `json:"skillNumber"`
}

// toDeviceInfo maps the wire descriptor to the model type, applying the
// domain fallback and positional channel indexing.
func (r rawDevice) toDeviceInfo() model.DeviceInfo {
	domain := r.Domain
	if domain == "" {
		domain = r.ReservedDomain
	}

	channels := make([]model.ChannelInfo, len(r.Channels))
	for i, ch := range r.Channels {
		channels[i] = model.ChannelInfo{
			Index:           i,
			Name:            ch.DevName,
			Type:            ch.Type,
			IsMasterChannel: i == 0 && len(r.Channels) > 1,
		}
	}

	return model.DeviceInfo{
		UUID:            r.UUID,
		Name:            r.DevName,
		Type:            r.DeviceType,
		SubType:         r.SubType,
		FirmwareVersion: r.FmwareVersion,
		HardwareVersion: r.HdwareVersion,
		Channels:        channels,
		BindTime:        time.Unix(r.BindTime, 0).UTC(),
		Region:          r.Region,
		OnlineStatus:    model.OnlineStatus(r.OnlineStatus),
		MQTTDomain:      domain,
		IconID:          r.DevIconID,
		SkillNumber:     r.SkillNumber,
	}
}

// ListDevices returns the inventory of devices owned by the account.
func (c *Client) ListDevices(ctx context.Context) ([]model.DeviceInfo, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	data, err := c.post(ctx, pathDeviceList, struct{}{}, token)
	if err != nil {
		return nil, err
	}

	var raw []rawDevice
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("apiclient: decoding device list: %w", err)
	}

	devices := make([]model.DeviceInfo, len(raw))
	for i, r := range raw {
		devices[i] = r.toDeviceInfo()
	}
	c.logger.Debug("listed devices", "count", len(devices))
	return devices, nil
}

// rawSubdevice is the wire shape of one hub subdevice entry.
type rawSubdevice struct {
	SubDeviceID     string `json:"subDeviceId"`
	SubDeviceType   string `json:"subDeviceType"`
	SubDeviceName   string `json:"subDeviceName"`
	SubDeviceIconID string `json:"subDeviceIconId"`
}

// ListHubSubdevices returns the subdevices paired behind the given hub.
func (c *Client) ListHubSubdevices(ctx context.Context, hubUUID string) ([]model.SubdeviceInfo, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	data, err := c.post(ctx, pathHubSubdevices, map[string]string{"uuid": hubUUID}, token)
	if err != nil {
		return nil, err
	}

	var raw []rawSubdevice
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("apiclient: decoding subdevice list: %w", err)
	}

	subdevices := make([]model.SubdeviceInfo, len(raw))
	for i, r := range raw {
		subdevices[i] = model.SubdeviceInfo{
			HubUUID: hubUUID,
			ID:      r.SubDeviceID,
			Type:    r.SubDeviceType,
			Name:    r.SubDeviceName,
			IconID:  r.SubDeviceIconID,
		}
	}
	return subdevices, nil
}

// Logout invalidates the server-side token. The stored credentials are
// cleared even if the request fails with ErrTokenExpired, since the
// token is unusable either way.
func (c *Client) Logout(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	_, err = c.post(ctx, pathLogout, struct{}{}, token)

	c.credsMu.Lock()
	c.creds = nil
	c.credsMu.Unlock()

	if err != nil {
		return err
	}
	c.logger.Info("logged out")
	return nil
}

// token returns the current session token or ErrNotLoggedIn.
func (c *Client) token() (string, error) {
	c.credsMu.RLock()
	defer c.credsMu.RUnlock()
	if c.creds == nil {
		return "", ErrNotLoggedIn
	}
	return c.creds.Token, nil
}

// responseWrapper is the vendor response envelope.
type responseWrapper struct {
	APIStatus int             `json:"apiStatus"`
	Info      string          `json:"info"`
	Data      json.RawMessage `json:"data"`
}

// post signs params, submits the form, and unwraps the response
// envelope. A non-zero apiStatus becomes an *APIError.
func (c *Client) post(ctx context.Context, path string, params any, token string) (json.RawMessage, error) {
	signed, err := envelope.SignParams(params)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"params":    {signed.Params},
		"sign":      {signed.Sign},
		"timestamp": {strconv.FormatInt(signed.Timestamp, 10)},
		"nonce":     {signed.Nonce},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("apiclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Basic "+token)
	} else {
		req.Header.Set("Authorization", "Basic")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: posting %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: -resp.StatusCode, Info: fmt.Sprintf("http status %s", resp.Status)}
	}

	var wrapper responseWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("apiclient: decoding response envelope: %w", err)
	}

	if wrapper.APIStatus != codeSuccess {
		apiErr := &APIError{Code: wrapper.APIStatus, Info: wrapper.Info}
		if wrapper.APIStatus == codeWrongRegion {
			var hint struct {
				Domain string `json:"domain"`
			}
			if err := json.Unmarshal(wrapper.Data, &hint); err == nil {
				apiErr.Domain = hint.Domain
			}
		}
		c.logger.Warn("api call failed", "path", path, "api_status", wrapper.APIStatus, "info", wrapper.Info)
		return nil, apiErr
	}

	return wrapper.Data, nil
}
