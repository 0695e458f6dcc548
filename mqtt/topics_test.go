package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device request", DeviceRequestTopic("abc123"), "/appliance/abc123/subscribe"},
		{"client response", ClientResponseTopic("U", "a1b2"), "/app/U-a1b2/subscribe"},
		{"user push", UserPushTopic("U"), "/app/U/subscribe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceUUIDFromTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		wantUUID string
		wantOK   bool
	}{
		{"request topic", "/appliance/abc123/subscribe", "abc123", true},
		{"publish form", "/appliance/abc123/publish", "abc123", true},
		{"app topic", "/app/U/subscribe", "", false},
		{"missing uuid", "/appliance//subscribe", "", false},
		{"no leading slash", "appliance/abc/subscribe", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uuid, ok := DeviceUUIDFromTopic(tt.topic)
			if uuid != tt.wantUUID || ok != tt.wantOK {
				t.Errorf("DeviceUUIDFromTopic(%q) = (%q, %v), want (%q, %v)",
					tt.topic, uuid, ok, tt.wantUUID, tt.wantOK)
			}
		})
	}
}
