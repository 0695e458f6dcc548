package lanhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meross-go/envelope"
)

const testKey = "K"

// newDeviceStub runs a fake LAN device that answers /config with a
// signed ACK echoing the request's correlation id.
func newDeviceStub(t *testing.T, ackMethod string, payload any, signKey string) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Post("/config", func(w http.ResponseWriter, req *http.Request) {
		var msg envelope.Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		reply, err := envelope.BuildAt(ackMethod, msg.Header.Namespace, payload,
			"/appliance/abc/publish", signKey, msg.Header.MessageID, time.Now().Unix())
		if err != nil {
			t.Errorf("building reply: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(reply); err != nil {
			t.Errorf("writing reply: %v", err)
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func requestBytes(t *testing.T, messageID string) []byte {
	t.Helper()
	data, err := envelope.BuildAt(envelope.MethodGet, "Appliance.System.All", nil,
		"/app/U-a1/subscribe", testKey, messageID, time.Now().Unix())
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return data
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestExecuteReturnsVerifiedPayload(t *testing.T) {
	srv := newDeviceStub(t, envelope.MethodGetAck, map[string]any{"all": map[string]any{"system": map[string]any{}}}, testKey)

	c := NewClient(Config{})
	payload, err := c.Execute(context.Background(), hostOf(srv), requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if _, ok := body["all"]; !ok {
		t.Errorf("payload = %s", payload)
	}
}

func TestExecuteRejectsBadSignature(t *testing.T) {
	srv := newDeviceStub(t, envelope.MethodGetAck, nil, "WRONG")

	c := NewClient(Config{})
	_, err := c.Execute(context.Background(), hostOf(srv), requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if !errors.Is(err, envelope.ErrInvalidSignature) {
		t.Errorf("Execute() error = %v, want ErrInvalidSignature", err)
	}
}

func TestExecuteRejectsWrongAckMethod(t *testing.T) {
	srv := newDeviceStub(t, envelope.MethodSetAck, nil, testKey)

	c := NewClient(Config{})
	_, err := c.Execute(context.Background(), hostOf(srv), requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("Execute() error = %v, want ErrUnexpectedReply", err)
	}
}

func TestExecuteNoAddress(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Execute(context.Background(), "", requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if !errors.Is(err, ErrNoAddress) {
		t.Errorf("Execute() error = %v, want ErrNoAddress", err)
	}
}

func TestExecuteNetworkErrorWrapsRequestFailed(t *testing.T) {
	c := NewClient(Config{Timeout: 200 * time.Millisecond})
	// Reserved TEST-NET-1 address: nothing listens there.
	_, err := c.Execute(context.Background(), "192.0.2.1:9", requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Execute() error = %v, want ErrRequestFailed", err)
	}
}

func TestExecuteNonSuccessStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/config", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := NewClient(Config{})
	_, err := c.Execute(context.Background(), hostOf(srv), requestBytes(t, "m1"), testKey, envelope.MethodGetAck)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Execute() error = %v, want ErrRequestFailed", err)
	}
}
