package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// secret is the platform salt used only in the HTTP parameter signature.
// It must match the vendor apps bit-exactly or login is rejected.
const secret = "23x17ahWarFH6w29"

// nonceAlphabet is the character set for HTTP request nonces.
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// nonceLength is the fixed nonce size the API expects.
const nonceLength = 16

// SignedParams is one signed HTTP form submission: the base64 JSON
// parameters plus the signature material that authenticates them.
type SignedParams struct {
	Params    string // base64(JSON) of the request parameters
	Sign      string // lower-case hex MD5 over secret||timestamp||nonce||params
	Timestamp int64  // milliseconds since epoch
	Nonce     string // 16 upper-alphanumeric characters
}

// SignParams encodes params as base64 JSON and signs the result with a
// fresh nonce and the current millisecond timestamp.
func SignParams(params any) (SignedParams, error) {
	return SignParamsAt(params, Nonce(), time.Now().UnixMilli())
}

// SignParamsAt is SignParams with caller-supplied nonce and timestamp,
// kept separate so the signature is reproducible under test.
func SignParamsAt(params any, nonce string, timestampMillis int64) (SignedParams, error) {
	encoded, err := EncodeParams(params)
	if err != nil {
		return SignedParams{}, err
	}
	return SignedParams{
		Params:    encoded,
		Sign:      MD5Hex(fmt.Sprintf("%s%d%s%s", secret, timestampMillis, nonce, encoded)),
		Timestamp: timestampMillis,
		Nonce:     nonce,
	}, nil
}

// EncodeParams marshals v to JSON and base64-encodes the result, the
// form the vendor API expects in its "params" field.
func EncodeParams(v any) (string, error) {
	if v == nil {
		v = struct{}{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("envelope: encoding params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeParams reverses EncodeParams into dst. It exists mainly for
// tests and debugging tools; the client never decodes its own params.
func DecodeParams(encoded string, dst any) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("envelope: decoding params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("envelope: decoding params: %w", err)
	}
	return nil
}

// Nonce returns 16 characters drawn from [A-Z0-9] using a
// cryptographically strong source.
func Nonce() string {
	var buf [nonceLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("envelope: reading random bytes: %v", err))
	}
	out := make([]byte, nonceLength)
	for i, b := range buf {
		out[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(out)
}
