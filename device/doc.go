// Package device holds the composed runtime representation of a fleet:
// Device wraps the cloud inventory record, the advertised ability set
// and the capability modules composed for it; Registry indexes devices
// by identity and routes asynchronous pushes to them; Subdevice is the
// addressable view of a sensor or valve living behind a hub.
//
// A Device never talks to a transport directly. Commands flow through
// the Executor seam the manager provides, which owns transport
// selection, rate limiting and timeouts.
package device
