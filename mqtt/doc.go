// Package mqtt implements the cloud broker transport: the TLS session
// to the vendor MQTT endpoint, the two client subscriptions, signed
// publish-and-wait request correlation, and push routing.
//
// It wraps paho.mqtt.golang with connection management, automatic
// reconnection with exponential backoff, and re-subscription on
// reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Any number of PublishAndWait calls may be in flight; correlation
//     is per message id.
package mqtt
