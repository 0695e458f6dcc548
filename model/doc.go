// Package model defines the shared data types of the Meross client:
// account credentials, device inventory descriptors, channel metadata,
// and subdevice descriptors as returned by the vendor HTTP API.
//
// The types here are plain data carriers. Behaviour lives in the
// packages that produce or consume them (apiclient, device, capability).
package model
