// Package apiclient implements the vendor HTTPS authentication and
// inventory API: login, device listing, hub subdevice listing, and
// logout.
//
// Every request posts signed base64-JSON form parameters (see the
// envelope package) and every response arrives in the
// {apiStatus, info, data} wrapper. Non-zero apiStatus values map to the
// sentinel errors in errors.go via APIError.
package apiclient
