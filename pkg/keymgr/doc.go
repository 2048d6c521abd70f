// Package keymgr implements the C7 response handlers that run inside a
// general worker: validating and dispatching CERTIFICATE, CRL,
// ACME_CHALLENGE_SET_CERT, ACME_CHALLENGE_CLEAR_CERT and ENTROPY_RESP
// messages addressed to a named domain, and the worker-local entropy
// pool ENTROPY_RESP feeds.
package keymgr
