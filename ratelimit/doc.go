// Package ratelimit implements the token-bucket limiter that sits
// between the manager and the transports.
//
// Two scopes apply to every call: a global bucket shared by all devices
// and a per-device bucket. A call proceeds only when both buckets hold a
// token; otherwise the limiter either schedules a delay from an
// exponential-backoff generator bound to the exhausted bucket, or drops
// the call once the per-device queue is full.
package ratelimit
