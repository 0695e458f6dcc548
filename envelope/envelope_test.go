package envelope

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
)

func TestSignKnownVector(t *testing.T) {
	// md5("m1" + "K" + "1700000000")
	const want = "8585d3d600e358bfca9c5f57c6a2d046"
	if got := Sign("m1", "K", 1700000000); got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestBuildAtVerifyRoundTrip(t *testing.T) {
	data, err := BuildAt(MethodGet, "Appliance.System.All", nil, "/app/U-a1/subscribe", "K", "m1", 1700000000)
	if err != nil {
		t.Fatalf("BuildAt() error = %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if msg.Header.From != "/app/U-a1/subscribe" {
		t.Errorf("header.from = %q", msg.Header.From)
	}
	if msg.Header.PayloadVersion != 1 {
		t.Errorf("header.payloadVersion = %d, want 1", msg.Header.PayloadVersion)
	}
	if err := Verify(msg.Header, "K"); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	base := Header{
		MessageID: "m1",
		Sign:      Sign("m1", "K", 1700000000),
		Timestamp: 1700000000,
	}

	tests := []struct {
		name   string
		mutate func(h Header) (Header, string)
	}{
		{
			name: "wrong key",
			mutate: func(h Header) (Header, string) {
				return h, "L"
			},
		},
		{
			name: "wrong timestamp",
			mutate: func(h Header) (Header, string) {
				h.Timestamp++
				return h, "K"
			},
		},
		{
			name: "wrong message id",
			mutate: func(h Header) (Header, string) {
				h.MessageID = "m2"
				return h, "K"
			},
		},
		{
			name: "tampered sign",
			mutate: func(h Header) (Header, string) {
				h.Sign = "00" + h.Sign[2:]
				return h, "K"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, key := tt.mutate(base)
			if err := Verify(h, key); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestBuildGeneratesFreshIDs(t *testing.T) {
	_, id1, err := Build(MethodSet, "Appliance.Control.ToggleX", map[string]any{"togglex": map[string]any{"channel": 0, "onoff": 1}}, "/app/U-a1/subscribe", "K")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	_, id2, err := Build(MethodSet, "Appliance.Control.ToggleX", nil, "/app/U-a1/subscribe", "K")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	hexMD5 := regexp.MustCompile(`^[0-9a-f]{32}$`)
	if !hexMD5.MatchString(id1) || !hexMD5.MatchString(id2) {
		t.Errorf("message ids %q, %q are not 32-char lower hex", id1, id2)
	}
	if id1 == id2 {
		t.Errorf("consecutive Build() calls produced identical message id %q", id1)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "not-json"},
		{name: "missing header", data: `{"payload":{}}`},
		{name: "empty message id", data: `{"header":{"method":"PUSH"},"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.data, err)
			}
		})
	}
}

func TestSignParamsAtKnownVector(t *testing.T) {
	signed, err := SignParamsAt(struct{}{}, "ABCDEFGH12345678", 1700000000000)
	if err != nil {
		t.Fatalf("SignParamsAt() error = %v", err)
	}

	if signed.Params != "e30=" {
		t.Errorf("params = %q, want %q", signed.Params, "e30=")
	}
	// md5(secret + "1700000000000" + "ABCDEFGH12345678" + "e30=")
	const want = "da684762ed8bdf8367b2e595df2cbf84"
	if signed.Sign != want {
		t.Errorf("sign = %q, want %q", signed.Sign, want)
	}
}

func TestEncodeDecodeParamsRoundTrip(t *testing.T) {
	in := map[string]string{"email": "e@x", "password": "p"}
	encoded, err := EncodeParams(in)
	if err != nil {
		t.Fatalf("EncodeParams() error = %v", err)
	}

	var out map[string]string
	if err := DecodeParams(encoded, &out); err != nil {
		t.Fatalf("DecodeParams() error = %v", err)
	}
	if out["email"] != in["email"] || out["password"] != in["password"] {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestNonceShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{16}$`)
	seen := make(map[string]bool)
	for range 50 {
		n := Nonce()
		if !pattern.MatchString(n) {
			t.Fatalf("Nonce() = %q, want 16 chars of [A-Z0-9]", n)
		}
		seen[n] = true
	}
	if len(seen) < 50 {
		t.Errorf("Nonce() produced duplicates across 50 draws")
	}
}

func TestMessagePayloadStaysRaw(t *testing.T) {
	data, err := BuildAt(MethodPush, "Appliance.Control.ToggleX",
		map[string]any{"togglex": []map[string]any{{"channel": 0, "onoff": 1}}},
		"/appliance/abc/subscribe", "K", "m9", 1700000001)
	if err != nil {
		t.Fatalf("BuildAt() error = %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var body struct {
		ToggleX []struct {
			Channel int `json:"channel"`
			OnOff   int `json:"onoff"`
		} `json:"togglex"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if len(body.ToggleX) != 1 || body.ToggleX[0].OnOff != 1 {
		t.Errorf("payload round trip = %+v", body)
	}
}
