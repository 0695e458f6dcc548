// Package envelope builds and validates the signed JSON envelope that
// carries every command, acknowledgement, and push on the Meross wire,
// and signs the base64 form parameters of the vendor HTTP API.
//
// All hashes are lower-case hex MD5. The envelope signature binds the
// message id, the per-user key, and the timestamp; the HTTP parameter
// signature binds the platform salt, the millisecond timestamp, a nonce,
// and the encoded parameters.
package envelope
