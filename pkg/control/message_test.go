package control

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Kind: KindCertificateReq, To: TargetKeymgr, ToSlot: -1, Payload: nil}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.To, out.To)
	assert.Equal(t, in.ToSlot, out.ToSlot)
	assert.Empty(t, out.Payload)
}

func TestFrameRoundTripWithPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0x42}, EntropyPayloadLen)
	in := Frame{Kind: KindEntropyResp, To: TargetSlot, ToSlot: 2, Payload: payload}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, int32(2), out.ToSlot)
}

func TestFrameRoundTripPreservesFromSlot(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Kind: KindEntropyResp, To: TargetSlot, ToSlot: 2, FromSlot: 5, Payload: bytes.Repeat([]byte{0x01}, EntropyPayloadLen)}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(5), out.FromSlot)
}

func TestDomainHeaderRoundTrip(t *testing.T) {
	data := []byte("certificate-bytes")
	payload, err := EncodeDomainHeader("example.com", data)
	require.NoError(t, err)

	domain, got, err := DecodeDomainHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, "example.com", domain)
	assert.Equal(t, data, got)
}

func TestDomainHeaderRejectsLengthMismatch(t *testing.T) {
	payload, err := EncodeDomainHeader("example.com", []byte("abc"))
	require.NoError(t, err)

	// Truncate the payload so data_len no longer matches the remaining bytes.
	corrupt := payload[:len(payload)-1]
	_, _, err = DecodeDomainHeader(corrupt)
	assert.Error(t, err)
}

func TestDomainHeaderRejectsUnterminatedName(t *testing.T) {
	domain := strings.Repeat("a", DomainNameLen+1) // no room left for the NUL
	payload := make([]byte, domainHeaderSize+3)
	copy(payload, domain)
	_, _, err := DecodeDomainHeader(payload)
	assert.Error(t, err)
}

func TestDomainNameTooLong(t *testing.T) {
	_, err := EncodeDomainHeader(strings.Repeat("a", DomainNameLen+1), nil)
	assert.Error(t, err)
}

func TestIsLifecycle(t *testing.T) {
	assert.True(t, IsLifecycle(KindShutdown))
	assert.True(t, IsLifecycle(KindCertificate))
	assert.False(t, IsLifecycle(KindAcceptAvailable))
	assert.False(t, IsLifecycle(KindEntropyReq))
}
