package transport

import (
	"context"
	"errors"

	"meshcore/internal/relay"
)

var ErrSendTransient = errors.New("transport: send failed, retriable")

// RelaySender adapts a Transport to relay.Sender, the narrow send-side
// view the relay engine needs. SendResultPermanent and SendResultTransient
// both surface as an error — the relay engine's own store-and-forward
// scheduler (spec §4.7) is what decides whether and when to retry.
type RelaySender struct {
	T Transport
}

func NewRelaySender(t Transport) RelaySender {
	return RelaySender{T: t}
}

func (s RelaySender) SendTo(ctx context.Context, peerID string, raw []byte) error {
	switch s.T.SendFrame(ctx, peerID, raw) {
	case SendResultOK:
		return nil
	case SendResultPermanent:
		return relay.ErrDestinationUnreachable
	default:
		return ErrSendTransient
	}
}

func (s RelaySender) Connected(peerID string) bool { return s.T.Connected(peerID) }

func (s RelaySender) ConnectedPeerIDs() []string { return s.T.ConnectedPeerIDs() }
