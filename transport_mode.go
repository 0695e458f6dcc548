package meross

import "fmt"

// TransportMode selects how commands reach devices.
type TransportMode int

const (
	// TransportMQTTOnly routes every command through the vendor
	// broker. The safe default.
	TransportMQTTOnly TransportMode = iota

	// TransportLANFirst tries the device's LAN HTTP endpoint first and
	// silently falls back to the broker.
	TransportLANFirst

	// TransportLANFirstOnlyGET uses the LAN fast path for reads only;
	// writes always go through the broker.
	TransportLANFirstOnlyGET
)

// String returns the configuration name of the mode.
func (m TransportMode) String() string {
	switch m {
	case TransportMQTTOnly:
		return "mqtt_only"
	case TransportLANFirst:
		return "lan_first"
	case TransportLANFirstOnlyGET:
		return "lan_first_only_get"
	default:
		return fmt.Sprintf("transport(%d)", int(m))
	}
}

// ParseTransportMode maps a configuration name to its mode.
func ParseTransportMode(name string) (TransportMode, error) {
	switch name {
	case "mqtt_only", "":
		return TransportMQTTOnly, nil
	case "lan_first":
		return TransportLANFirst, nil
	case "lan_first_only_get":
		return TransportLANFirstOnlyGET, nil
	default:
		return TransportMQTTOnly, fmt.Errorf("%w: %q", ErrInvalidTransportMode, name)
	}
}
