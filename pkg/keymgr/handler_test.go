package keymgr

import (
	"crypto/tls"
	"testing"

	"github.com/cuemby/fleetd/pkg/control"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *Registry) {
	t.Helper()
	reg := NewRegistry()
	reg.AddServer("example.com", "api.example.com")
	pool := NewPool([]byte("seed"))
	h := New(reg, pool, zerolog.Nop())
	h.LoadCertificate = func(pem []byte) (*tls.Config, error) {
		return &tls.Config{ServerName: string(pem)}, nil
	}
	return h, reg
}

func domainFrame(t *testing.T, kind control.Kind, domain string, data []byte) control.Frame {
	t.Helper()
	payload, err := control.EncodeDomainHeader(domain, data)
	require.NoError(t, err)
	return control.Frame{Kind: kind, Payload: payload}
}

func TestCertificateInstallsTLSConfig(t *testing.T) {
	h, reg := newTestHandler(t)
	f := domainFrame(t, control.KindCertificate, "example.com", []byte("pem-bytes"))
	h.Dispatch(f)

	ds := reg.Resolve("example.com")
	require.NotNil(t, ds.TLSConfig)
	assert.Equal(t, "pem-bytes", ds.TLSConfig.ServerName)
}

func TestCRLInstall(t *testing.T) {
	h, reg := newTestHandler(t)
	f := domainFrame(t, control.KindCRL, "example.com", []byte("crl-bytes"))
	h.Dispatch(f)

	ds := reg.Resolve("example.com")
	assert.Equal(t, []byte("crl-bytes"), ds.CRL)
}

func TestACMEChallengeSetAndClear(t *testing.T) {
	h, reg := newTestHandler(t)
	setF := domainFrame(t, control.KindACMEChallengeSetCert, "api.example.com", []byte("der-cert"))
	h.Dispatch(setF)

	ds := reg.Resolve("api.example.com")
	require.True(t, ds.ACMEChallenge)
	assert.Equal(t, []byte("der-cert"), ds.ACMECert)

	clearF := control.Frame{Kind: control.KindACMEChallengeClearCert}
	// Clear addresses the same domain via a domain header too.
	payload, err := control.EncodeDomainHeader("api.example.com", nil)
	require.NoError(t, err)
	clearF.Payload = payload
	h.Dispatch(clearF)

	assert.False(t, ds.ACMEChallenge)
	assert.Nil(t, ds.ACMECert)
}

func TestUnknownDomainIsRejectedWithoutMutation(t *testing.T) {
	h, reg := newTestHandler(t)
	f := domainFrame(t, control.KindCertificate, "unknown.test", []byte("pem"))
	h.Dispatch(f)

	assert.Nil(t, reg.Resolve("unknown.test"))
	assert.Nil(t, reg.Resolve("example.com").TLSConfig)
}

func TestMalformedDomainHeaderIsRejected(t *testing.T) {
	h, reg := newTestHandler(t)
	f := control.Frame{Kind: control.KindCertificate, Payload: []byte("too short")}
	h.Dispatch(f)
	assert.Nil(t, reg.Resolve("example.com").TLSConfig)
}

func TestEntropyRespReseedsPool(t *testing.T) {
	h, _ := newTestHandler(t)
	payload := make([]byte, EntropyPayloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	f := control.Frame{Kind: control.KindEntropyResp, Payload: payload}
	h.Dispatch(f)

	buf := make([]byte, 32)
	n, err := h.pool.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestEntropyRespWrongLengthIsRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	f := control.Frame{Kind: control.KindEntropyResp, Payload: []byte("too short")}
	h.Dispatch(f)
	// No panic, no mutation to check beyond absence of error propagation.
}

func TestRespondToEntropyReqReturnsFreshPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	reply, ok := h.Respond(control.Frame{Kind: control.KindEntropyReq, FromSlot: 3})
	require.True(t, ok)
	assert.Equal(t, control.KindEntropyResp, reply.Kind)
	assert.Equal(t, control.TargetSlot, reply.To)
	assert.Equal(t, int32(3), reply.ToSlot)
	assert.Len(t, reply.Payload, EntropyPayloadLen)
}

func TestRespondToCertificateReqReturnsStoredPEM(t *testing.T) {
	h, reg := newTestHandler(t)
	h.Dispatch(domainFrame(t, control.KindCertificate, "example.com", []byte("pem-bytes")))
	require.NotNil(t, reg.Resolve("example.com").TLSConfig)

	req := domainFrame(t, control.KindCertificateReq, "example.com", nil)
	req.FromSlot = 1
	reply, ok := h.Respond(req)
	require.True(t, ok)
	assert.Equal(t, control.KindCertificate, reply.Kind)
	assert.Equal(t, int32(1), reply.ToSlot)

	domain, data, err := control.DecodeDomainHeader(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, "example.com", domain)
	assert.Equal(t, []byte("pem-bytes"), data)
}

func TestRespondToCertificateReqWithNoCertInstalledIsDeclined(t *testing.T) {
	h, _ := newTestHandler(t)
	req := domainFrame(t, control.KindCertificateReq, "example.com", nil)
	_, ok := h.Respond(req)
	assert.False(t, ok)
}

func TestRespondIgnoresNonRequestKinds(t *testing.T) {
	h, _ := newTestHandler(t)
	_, ok := h.Respond(control.Frame{Kind: control.KindAcceptAvailable})
	assert.False(t, ok)
}
