package envelope

import (
	"crypto/md5" //nolint:gosec // vendor protocol mandates MD5 signatures
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Methods carried in the envelope header.
const (
	MethodGet    = "GET"
	MethodSet    = "SET"
	MethodPush   = "PUSH"
	MethodGetAck = "GETACK"
	MethodSetAck = "SETACK"
)

// payloadVersion is the only envelope version the platform speaks.
const payloadVersion = 1

// Header is the signed routing header of every wire message.
type Header struct {
	// From is the topic the sender expects replies on. For outbound
	// requests it is the client response topic; for pushes it carries
	// the originating device's request topic.
	From string `json:"from"`

	MessageID      string `json:"messageId"`
	Method         string `json:"method"`
	Namespace      string `json:"namespace"`
	PayloadVersion int    `json:"payloadVersion"`
	Sign           string `json:"sign"`
	Timestamp      int64  `json:"timestamp"`
}

// IsAck reports whether the header method acknowledges a request.
func (h Header) IsAck() bool {
	return h.Method == MethodGetAck || h.Method == MethodSetAck
}

// Message is a decoded envelope. Payload is kept raw; its shape is
// namespace-specific and interpreted by the capability modules.
type Message struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessageID generates a fresh correlation id: the hex MD5 of 16
// random bytes.
func NewMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; a broken
		// entropy source is unrecoverable here.
		panic(fmt.Sprintf("envelope: reading random bytes: %v", err))
	}
	return MD5Hex(hex.EncodeToString(buf[:]))
}

// Build constructs a signed request envelope ready to publish.
//
// A fresh message id and timestamp are generated per call; everything
// else is deterministic given the inputs. The returned message id is the
// caller's correlation handle for the matching ACK.
//
// Parameters:
//   - method: MethodGet or MethodSet
//   - namespace: ability namespace the payload targets
//   - payload: namespace-specific body (marshalled as-is)
//   - responseTopic: the client response topic, placed in header.from
//   - key: the per-user signing key from login
//
// Returns:
//   - []byte: the marshalled envelope
//   - string: the generated message id
//   - error: if the payload cannot be marshalled
func Build(method, namespace string, payload any, responseTopic, key string) ([]byte, string, error) {
	messageID := NewMessageID()
	timestamp := time.Now().Unix()
	data, err := BuildAt(method, namespace, payload, responseTopic, key, messageID, timestamp)
	if err != nil {
		return nil, "", err
	}
	return data, messageID, nil
}

// BuildAt is Build with caller-supplied message id and timestamp. It
// exists so the signer is deterministic under test and so replies can
// echo a request's correlation id.
func BuildAt(method, namespace string, payload any, responseTopic, key, messageID string, timestamp int64) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	msg := struct {
		Header  Header `json:"header"`
		Payload any    `json:"payload"`
	}{
		Header: Header{
			From:           responseTopic,
			MessageID:      messageID,
			Method:         method,
			Namespace:      namespace,
			PayloadVersion: payloadVersion,
			Sign:           Sign(messageID, key, timestamp),
			Timestamp:      timestamp,
		},
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshalling %s %s: %w", method, namespace, err)
	}
	return data, nil
}

// Decode parses raw wire bytes into a Message without verifying the
// signature. Callers must Verify before acting on the result.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Header.MessageID == "" || msg.Header.Method == "" {
		return nil, fmt.Errorf("%w: missing header fields", ErrMalformed)
	}
	return &msg, nil
}

// Sign computes the envelope signature for the given correlation id,
// user key, and timestamp.
func Sign(messageID, key string, timestamp int64) string {
	return MD5Hex(fmt.Sprintf("%s%s%d", messageID, key, timestamp))
}

// Verify recomputes the header signature under key and compares it with
// the carried value. It returns ErrInvalidSignature on mismatch so the
// caller can drop the message at the transport boundary.
func Verify(h Header, key string) error {
	if Sign(h.MessageID, key, h.Timestamp) != h.Sign {
		return ErrInvalidSignature
	}
	return nil
}

// MD5Hex returns the lower-case hex MD5 of s. The platform uses this
// digest for message ids, envelope signatures, the MQTT password, and
// the per-session app id.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // vendor protocol mandates MD5
	return hex.EncodeToString(sum[:])
}
