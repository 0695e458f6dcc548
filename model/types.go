package model

import "time"

// Platform defaults applied when the inventory omits broker details.
const (
	// DefaultMQTTDomain is the broker used when a device reports no domain.
	DefaultMQTTDomain = "iot.meross.com"

	// DefaultMQTTPort is the TLS broker port.
	DefaultMQTTPort = 2001
)

// OnlineStatus is the device availability state reported by the vendor
// cloud. The numeric values are wire values and must not be renumbered.
type OnlineStatus int

const (
	OnlineStatusUnknown   OnlineStatus = -1
	OnlineStatusNotOnline OnlineStatus = 0
	OnlineStatusOnline    OnlineStatus = 1
	OnlineStatusOffline   OnlineStatus = 2
	OnlineStatusUpgrading OnlineStatus = 3
)

// String returns a human-readable name for logging and find filters.
func (s OnlineStatus) String() string {
	switch s {
	case OnlineStatusNotOnline:
		return "not_online"
	case OnlineStatusOnline:
		return "online"
	case OnlineStatusOffline:
		return "offline"
	case OnlineStatusUpgrading:
		return "upgrading"
	default:
		return "unknown"
	}
}

// Credentials is the per-account secret material issued by login.
//
// Key signs every envelope and derives the MQTT password; Token is the
// HTTP Basic payload for authenticated API calls. The struct is treated
// as immutable once issued; Logout invalidates it server-side.
type Credentials struct {
	Token     string    `json:"token"`
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Valid reports whether all credential fields a signed session needs are
// present.
func (c Credentials) Valid() bool {
	return c.Token != "" && c.Key != "" && c.UserID != "" && c.UserEmail != ""
}

// ChannelInfo describes one addressable sub-output of a device, such as
// a single socket on a multi-way power strip.
type ChannelInfo struct {
	// Index is the positional channel number. Index 0 on a multi-channel
	// device is the master channel.
	Index int `json:"index"`

	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`

	// IsMasterChannel marks the channel whose commands fan out to all
	// channels of the device.
	IsMasterChannel bool `json:"is_master_channel"`
}

// IsUSB reports whether the channel is the USB output of a power strip.
func (c ChannelInfo) IsUSB() bool {
	return c.Type == "USB"
}

// DeviceInfo is the inventory descriptor for one owned device as listed
// by the vendor HTTP API. It is the input to discovery; the composed
// runtime object lives in the device package.
type DeviceInfo struct {
	UUID            string        `json:"uuid"`
	Name            string        `json:"name"`
	Type            string        `json:"type"`
	SubType         string        `json:"sub_type"`
	FirmwareVersion string        `json:"firmware_version"`
	HardwareVersion string        `json:"hardware_version"`
	Channels        []ChannelInfo `json:"channels"`
	BindTime        time.Time     `json:"bind_time"`
	Region          string        `json:"region"`
	OnlineStatus    OnlineStatus  `json:"online_status"`
	MQTTDomain      string        `json:"mqtt_domain"`
	MQTTPort        int           `json:"mqtt_port"`
	IconID          string        `json:"icon_id,omitempty"`
	SkillNumber     string        `json:"skill_number,omitempty"`
}

// BrokerDomain returns the MQTT domain for the device, falling back to
// the platform default when the inventory reported none.
func (d DeviceInfo) BrokerDomain() string {
	if d.MQTTDomain != "" {
		return d.MQTTDomain
	}
	return DefaultMQTTDomain
}

// BrokerPort returns the MQTT port for the device, falling back to the
// platform default.
func (d DeviceInfo) BrokerPort() int {
	if d.MQTTPort > 0 {
		return d.MQTTPort
	}
	return DefaultMQTTPort
}

// MasterChannel returns the master channel descriptor, if any.
func (d DeviceInfo) MasterChannel() (ChannelInfo, bool) {
	for _, ch := range d.Channels {
		if ch.IsMasterChannel {
			return ch, true
		}
	}
	return ChannelInfo{}, false
}

// SubdeviceInfo is the inventory descriptor for a device paired behind a
// hub. Subdevices are addressed as {HubUUID, ID} and are reachable only
// through their hub's transport.
type SubdeviceInfo struct {
	HubUUID string `json:"hub_uuid"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	IconID  string `json:"icon_id,omitempty"`
}
