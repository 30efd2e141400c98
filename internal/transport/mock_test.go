package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	connected    []string
	disconnected []string
	frames       [][2]string
}

func (r *recordingEvents) OnPeerConnected(peerID string, _ PeerKind) {
	r.connected = append(r.connected, peerID)
}

func (r *recordingEvents) OnPeerDisconnected(peerID string, _ DisconnectReason) {
	r.disconnected = append(r.disconnected, peerID)
}

func (r *recordingEvents) OnFrameReceived(peerID string, raw []byte) {
	r.frames = append(r.frames, [2]string{peerID, string(raw)})
}

func waitForFrame(t *testing.T, ev *recordingEvents) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(ev.frames) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for frame")
}

func TestMockTransportConnectFiresEvents(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	evA := &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))

	a.Connect("b", PeerLocal)
	assert.Equal(t, []string{"b"}, evA.connected)
	assert.True(t, a.Connected("b"))
	assert.Equal(t, []string{"b"}, a.ConnectedPeerIDs())
}

func TestMockTransportDisconnectFiresEventOnlyIfLinked(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	evA := &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))

	a.Disconnect("ghost", DisconnectTimeout)
	assert.Empty(t, evA.disconnected)

	a.Connect("b", PeerLocal)
	a.Disconnect("b", DisconnectTimeout)
	assert.Equal(t, []string{"b"}, evA.disconnected)
	assert.False(t, a.Connected("b"))
}

func TestMockTransportSendFrameDeliversWhenBothLinked(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	b := NewMockTransport(net, "b")
	evA, evB := &recordingEvents{}, &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))
	require.NoError(t, b.Start(context.Background(), evB))

	a.Connect("b", PeerLocal)
	b.Connect("a", PeerLocal)

	result := a.SendFrame(context.Background(), "b", []byte("hello"))
	assert.Equal(t, SendResultOK, result)
	waitForFrame(t, evB)
	require.Len(t, evB.frames, 1)
	assert.Equal(t, "a", evB.frames[0][0])
	assert.Equal(t, "hello", evB.frames[0][1])
}

func TestMockTransportSendFrameTransientWhenNotLinkedLocally(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	evA := &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))

	result := a.SendFrame(context.Background(), "b", []byte("hello"))
	assert.Equal(t, SendResultTransient, result)
}

func TestMockTransportSendFramePermanentWhenTargetUnknown(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	evA := &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))
	a.Connect("b", PeerLocal)

	result := a.SendFrame(context.Background(), "b", []byte("hello"))
	assert.Equal(t, SendResultPermanent, result)
}

func TestMockTransportSendFrameTransientWhenTargetHasNotLinkedBack(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	b := NewMockTransport(net, "b")
	evA, evB := &recordingEvents{}, &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))
	require.NoError(t, b.Start(context.Background(), evB))

	a.Connect("b", PeerLocal)
	// b never calls Connect("a", ...)

	result := a.SendFrame(context.Background(), "b", []byte("hello"))
	assert.Equal(t, SendResultTransient, result)
}

func TestMockTransportStopClearsPeersAndUnregisters(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	evA := &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))
	a.Connect("b", PeerLocal)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Connected("b"))
	_, ok := net.lookup("a")
	assert.False(t, ok)
}

func TestRelaySenderAdaptsTransportResults(t *testing.T) {
	net := NewMockNetwork()
	a := NewMockTransport(net, "a")
	b := NewMockTransport(net, "b")
	evA, evB := &recordingEvents{}, &recordingEvents{}
	require.NoError(t, a.Start(context.Background(), evA))
	require.NoError(t, b.Start(context.Background(), evB))
	a.Connect("b", PeerLocal)
	b.Connect("a", PeerLocal)

	sender := NewRelaySender(a)
	assert.True(t, sender.Connected("b"))
	assert.Equal(t, []string{"b"}, sender.ConnectedPeerIDs())

	require.NoError(t, sender.SendTo(context.Background(), "b", []byte("hi")))
	waitForFrame(t, evB)

	b.Disconnect("a", DisconnectClosedByPeer)
	err := sender.SendTo(context.Background(), "nonexistent", []byte("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendTransient)
}
