// Package protocol owns the datagram wire contract and its parsing primitives.
//
// Ownership boundary:
// - command decode/encode
// - value reply decode/encode
// - error reply codes
package protocol
