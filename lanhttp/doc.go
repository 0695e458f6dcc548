// Package lanhttp implements the optional direct-to-device transport:
// the same signed envelope POSTed to http://<device>/config on the
// local network.
//
// Whether a request goes over LAN at all is a per-call transport-mode
// decision made by the manager; this package only executes the exchange
// and verifies the reply.
package lanhttp
