package channel

import (
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairEndpoints(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	parent, childFile, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() { parent.Close() })

	child, err := FromFD(int(childFile.Fd()))
	require.NoError(t, err)
	childFile.Close()
	t.Cleanup(func() { child.Close() })

	return NewEndpoint(parent), NewEndpoint(child)
}

func TestEndpointSendRecv(t *testing.T) {
	a, b := pairEndpoints(t)

	require.NoError(t, a.TrySend(control.Frame{Kind: control.KindAcceptAvailable, To: control.TargetAllWorkers}))

	var got control.Frame
	var err error
	require.Eventually(t, func() bool {
		got, err = b.TryRecv()
		return err == nil
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, control.KindAcceptAvailable, got.Kind)
}

func TestEndpointTryRecvNoMessage(t *testing.T) {
	_, b := pairEndpoints(t)
	_, err := b.TryRecv()
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestEndpointFIFOOrdering(t *testing.T) {
	a, b := pairEndpoints(t)

	kinds := []control.Kind{control.KindEntropyReq, control.KindCertificateReq, control.KindShutdown}
	for _, k := range kinds {
		require.NoError(t, a.TrySend(control.Frame{Kind: k}))
	}

	for _, want := range kinds {
		var got control.Frame
		var err error
		require.Eventually(t, func() bool {
			got, err = b.TryRecv()
			return err == nil
		}, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got.Kind)
	}
}

func TestEndpointLargePayloadSplitAcrossReads(t *testing.T) {
	a, b := pairEndpoints(t)

	payload := make([]byte, control.EntropyPayloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, a.TrySend(control.Frame{Kind: control.KindEntropyResp, Payload: payload}))

	var got control.Frame
	var err error
	require.Eventually(t, func() bool {
		got, err = b.TryRecv()
		return err == nil
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}
