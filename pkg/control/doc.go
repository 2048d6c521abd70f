// Package control defines the typed messages carried over the control
// channel between the supervisor and each worker process.
//
// A Frame is the unit written to the wire: a fixed 20-byte header
// carrying the message Kind, the addressing Target, the ToSlot/FromSlot
// slot numbers and the payload length, followed by that many bytes of
// kind-specific payload. CERTIFICATE, CRL and the ACME_CHALLENGE_* kinds
// additionally carry a DomainHeader as the first bytes of that payload.
package control
