// Package history persists device notifications to a local SQLite
// database so state transitions survive process restarts and can be
// inspected after the fact.
//
// Recording is optional: the manager only writes history when a store
// is configured. Entries hold the raw notification payload as JSON
// alongside the device identity and namespace, ordered by arrival.
package history
