package mqtt

import (
	"fmt"
	"strings"
)

// Topic builders for the vendor broker. The layout is fixed by the
// platform and shared by every device and app client:
//
//	/appliance/<uuid>/subscribe        commands to one device
//	/app/<userId>-<appId>/subscribe    ACKs back to this client
//	/app/<userId>/subscribe            unsolicited device pushes

// DeviceRequestTopic returns the topic a device listens on for commands.
func DeviceRequestTopic(deviceUUID string) string {
	return fmt.Sprintf("/appliance/%s/subscribe", deviceUUID)
}

// ClientResponseTopic returns the per-session topic devices reply to.
// It doubles as the envelope "from" field on outbound requests.
func ClientResponseTopic(userID, appID string) string {
	return fmt.Sprintf("/app/%s-%s/subscribe", userID, appID)
}

// UserPushTopic returns the account-wide topic carrying device pushes.
func UserPushTopic(userID string) string {
	return fmt.Sprintf("/app/%s/subscribe", userID)
}

// DeviceUUIDFromTopic extracts the device uuid from a device request
// topic, the form pushes carry in header.from. Returns false when the
// topic does not look like /appliance/<uuid>/....
func DeviceUUIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	// Leading slash yields an empty first element.
	if len(parts) < 3 || parts[0] != "" || parts[1] != "appliance" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
