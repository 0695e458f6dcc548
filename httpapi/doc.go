// Package httpapi provides a local HTTP status API for the client
// daemon.
//
// It exposes the enrolled fleet, per-device state, push history and
// operational counters to local dashboards and scripts. The server
// follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := httpapi.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The API is read-mostly; the only mutating endpoints are the switch
// state writes and a discovery trigger. It binds to localhost by
// default and carries no authentication of its own, so do not expose
// it beyond a trusted network.
//
// Thread Safety: All methods are safe for concurrent use from
// multiple goroutines.
package httpapi
