package keymgr

import (
	"crypto/tls"
	"fmt"

	"github.com/cuemby/fleetd/pkg/control"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/rs/zerolog"
)

// Handler dispatches inbound keymgr-addressed control frames into a
// Registry and an entropy Pool, applying the validation every message
// must pass before any domain state is touched.
type Handler struct {
	registry *Registry
	pool     *Pool
	log      zerolog.Logger

	// LoadCertificate parses a PEM chain into a *tls.Config; injected so
	// the handler stays independent of the concrete TLS engine, which is
	// out of scope here.
	LoadCertificate func(pem []byte) (*tls.Config, error)
}

// New returns a Handler dispatching into registry and pool.
func New(registry *Registry, pool *Pool, log zerolog.Logger) *Handler {
	return &Handler{registry: registry, pool: pool, log: log}
}

// Dispatch validates and routes one inbound control frame. Validation
// failures and unknown domains are logged and the message is dropped;
// they are never treated as fatal, and domain state is never mutated on
// a rejected message.
func (h *Handler) Dispatch(f control.Frame) {
	metrics.ControlMessagesTotal.WithLabelValues(f.Kind.String(), "in").Inc()

	if f.Kind == control.KindEntropyResp {
		h.handleEntropy(f.Payload)
		return
	}

	domain, data, err := control.DecodeDomainHeader(f.Payload)
	if err != nil {
		h.reject("decode_error", f.Kind, err)
		return
	}

	ds := h.registry.Resolve(domain)
	if ds == nil {
		h.reject("unknown_domain", f.Kind, fmt.Errorf("domain %q not found", domain))
		return
	}

	switch f.Kind {
	case control.KindCertificate:
		h.installCertificate(ds, data)
	case control.KindCRL:
		h.installCRL(ds, data)
	case control.KindACMEChallengeSetCert:
		h.setACMEChallenge(ds, data)
	case control.KindACMEChallengeClearCert:
		h.clearACMEChallenge(ds)
	default:
		h.reject("unhandled_kind", f.Kind, fmt.Errorf("keymgr does not dispatch %s", f.Kind))
	}
}

// Respond builds the reply to a request-style frame a general worker
// addressed to KEYMGR (ENTROPY_REQ, CERTIFICATE_REQ), addressed back to
// the requester's slot. ok is false when f is not a request kind Respond
// handles, or when no reply can be produced (e.g. no certificate yet
// installed for the requested domain); the caller sends nothing in that
// case.
func (h *Handler) Respond(f control.Frame) (reply control.Frame, ok bool) {
	switch f.Kind {
	case control.KindEntropyReq:
		payload := make([]byte, EntropyPayloadLen)
		if _, err := h.pool.Read(payload); err != nil {
			h.reject("entropy_read_failed", f.Kind, err)
			return control.Frame{}, false
		}
		return control.Frame{Kind: control.KindEntropyResp, To: control.TargetSlot, ToSlot: f.FromSlot, Payload: payload}, true

	case control.KindCertificateReq:
		domain, _, err := control.DecodeDomainHeader(f.Payload)
		if err != nil {
			h.reject("decode_error", f.Kind, err)
			return control.Frame{}, false
		}
		ds := h.registry.Resolve(domain)
		if ds == nil || len(ds.CertificatePEM) == 0 {
			h.log.Debug().Str("domain", domain).Msg("no certificate on file yet for request")
			return control.Frame{}, false
		}
		payload, err := control.EncodeDomainHeader(domain, ds.CertificatePEM)
		if err != nil {
			h.reject("encode_error", f.Kind, err)
			return control.Frame{}, false
		}
		return control.Frame{Kind: control.KindCertificate, To: control.TargetSlot, ToSlot: f.FromSlot, Payload: payload}, true

	default:
		return control.Frame{}, false
	}
}

func (h *Handler) reject(reason string, kind control.Kind, err error) {
	metrics.KeymgrRejectionsTotal.WithLabelValues(reason).Inc()
	h.log.Warn().Str("kind", kind.String()).Str("reason", reason).Err(err).Msg("rejected keymgr message")
}

func (h *Handler) installCertificate(ds *DomainState, pemChain []byte) {
	if h.LoadCertificate == nil {
		h.log.Warn().Str("domain", ds.Name).Msg("no certificate loader configured, dropping CERTIFICATE")
		return
	}
	cfg, err := h.LoadCertificate(pemChain)
	if err != nil {
		h.reject("bad_certificate", control.KindCertificate, err)
		return
	}
	ds.TLSConfig = cfg
	ds.CertificatePEM = append([]byte(nil), pemChain...)
}

func (h *Handler) installCRL(ds *DomainState, data []byte) {
	ds.CRL = append([]byte(nil), data...)
}

func (h *Handler) setACMEChallenge(ds *DomainState, data []byte) {
	if ds.TLSConfig == nil && h.LoadCertificate != nil {
		cfg, err := h.LoadCertificate(data)
		if err != nil {
			h.reject("bad_acme_cert", control.KindACMEChallengeSetCert, err)
			return
		}
		ds.TLSConfig = cfg
	}
	ds.ACMECert = append([]byte(nil), data...)
	ds.ACMEChallenge = true
}

func (h *Handler) clearACMEChallenge(ds *DomainState) {
	ds.ACMECert = nil
	ds.ACMEChallenge = false
}

func (h *Handler) handleEntropy(payload []byte) {
	if err := h.pool.Reseed(payload); err != nil {
		h.reject("bad_entropy", control.KindEntropyResp, err)
	}
}
