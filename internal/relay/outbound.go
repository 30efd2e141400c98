package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"meshcore/internal/pqueue"
	"meshcore/internal/session"
	"meshcore/internal/store"
	"meshcore/internal/wire"
)

// ensureInitiatorSession returns this node's initiator SessionContext with
// destinationID, establishing one (and announcing it with a KEY_EXCHANGE
// frame) if none exists yet.
func (e *Engine) ensureInitiatorSession(ctx context.Context, destinationID string, destPub [32]byte, now time.Time) (*session.SessionContext, error) {
	sc, err := e.Sessions.Get(ctx, destinationID, true)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, session.ErrUnknownSession) {
		return nil, err
	}

	secret, serr := e.sharedSecretWith(destPub)
	if serr != nil {
		return nil, serr
	}
	sc, err = e.Sessions.Establish(ctx, destinationID, secret, true, now)
	if err != nil {
		return nil, err
	}

	if err := e.sendEnvelope(ctx, destinationID, wire.TypeKeyExchange, nil, now); err != nil {
		return sc, err
	}
	return sc, nil
}

// sendEnvelope signs and encodes an envelope of the given type/payload and
// transmits it directly to destinationID. payload is already the final
// wire payload (nonce||ciphertext for application types, empty for
// KEY_EXCHANGE).
func (e *Engine) sendEnvelope(ctx context.Context, destinationID string, typ wire.Type, payload []byte, now time.Time) error {
	ident := e.Identity.GetIdentity()

	h := wire.Header{
		Version:         1,
		Type:            typ,
		TTL:             e.DefaultTTL,
		TimestampMillis: now.UnixMilli(),
		SenderPublicKey: ident.PublicKey,
	}
	sig, err := e.Identity.Sign(h.SignedBytes(payload))
	if err != nil {
		return err
	}
	h.Signature, err = wire.NormalizeSignature(sig)
	if err != nil {
		return err
	}

	raw, err := wire.Encode(wire.Envelope{Header: h, Payload: payload})
	if err != nil {
		return err
	}

	if e.Sender.Connected(destinationID) {
		return e.Sender.SendTo(ctx, destinationID, raw)
	}

	route, rerr := e.Store.GetRoute(ctx, destinationID)
	if rerr == nil && route.NextHopID != "" && e.Sender.Connected(route.NextHopID) {
		return e.Sender.SendTo(ctx, route.NextHopID, raw)
	}

	return e.enqueue(ctx, destinationID, raw, now)
}

// enqueue persists raw as a QueuedMessage for the store-and-forward
// scheduler (spec §4.7) to retry later.
func (e *Engine) enqueue(ctx context.Context, destinationID string, raw []byte, now time.Time) error {
	return e.Store.SaveMessage(ctx, store.QueuedMessage{
		ID:            randomID(),
		Envelope:      raw,
		EnqueuedAt:    now,
		AttemptCount:  0,
		NextAttemptAt: now,
		DestinationID: destinationID,
	})
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Send encrypts plaintext for destinationID and transmits it, establishing
// a session if necessary, falling back to store-and-forward if the
// destination (and any known next hop) is currently unreachable. priority
// is advisory only here: it only matters once the message actually reaches
// a local outbound queue, which this reference engine does not maintain
// (enqueue goes straight to persistent storage, drained by Tick).
func (e *Engine) Send(ctx context.Context, destinationID string, plaintext []byte, priority pqueue.Priority, now time.Time) (SendResult, error) {
	_ = priority

	peer, err := e.Registry.Get(destinationID)
	if err != nil {
		return SendResult{State: SendDropped, Reason: "unknown destination"}, ErrDestinationUnreachable
	}
	if e.Registry.IsBlacklisted(destinationID, now) {
		return SendResult{State: SendDropped, Reason: "destination blacklisted"}, ErrDestinationUnreachable
	}

	sc, err := e.ensureInitiatorSession(ctx, destinationID, peer.PublicKey, now)
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}
	_ = sc

	secret, err := e.sharedSecretWith(peer.PublicKey)
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}

	h := wire.Header{
		Version:         1,
		Type:            wire.TypeText,
		TTL:             e.DefaultTTL,
		TimestampMillis: now.UnixMilli(),
		SenderPublicKey: e.Identity.GetIdentity().PublicKey,
	}
	nonce, ciphertext, err := e.Sessions.Encrypt(ctx, destinationID, secret, true, plaintext, h.AAD())
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}
	payload := append(append([]byte{}, nonce...), ciphertext...)

	if e.Sender.Connected(destinationID) {
		if err := e.sendEnvelope(ctx, destinationID, wire.TypeText, payload, now); err != nil {
			return SendResult{State: SendFailed, Reason: err.Error()}, err
		}
		return SendResult{State: SendSent}, nil
	}

	if route, rerr := e.Store.GetRoute(ctx, destinationID); rerr == nil && route.NextHopID != "" && e.Sender.Connected(route.NextHopID) {
		if err := e.sendEnvelope(ctx, destinationID, wire.TypeText, payload, now); err != nil {
			return SendResult{State: SendFailed, Reason: err.Error()}, err
		}
		return SendResult{State: SendSent}, nil
	}

	sig, err := e.Identity.Sign(h.SignedBytes(payload))
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}
	h.Signature, err = wire.NormalizeSignature(sig)
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}
	raw, err := wire.Encode(wire.Envelope{Header: h, Payload: payload})
	if err != nil {
		return SendResult{State: SendFailed, Reason: err.Error()}, err
	}
	if err := e.enqueue(ctx, destinationID, raw, now); err != nil {
		return SendResult{State: SendDropped, Reason: err.Error()}, err
	}
	return SendResult{State: SendQueued}, nil
}

// Tick drains the store-and-forward queue (spec §4.7): every QueuedMessage
// whose NextAttemptAt has passed and whose destination is now reachable is
// retried; on failure it is rescheduled with exponential backoff; entries
// past MaxQueueAge or DefaultMaxAttempts are evicted and reported as drops.
func (e *Engine) Tick(ctx context.Context, now time.Time) (sent, dropped int, err error) {
	pending, err := e.Store.ScanMessages(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, msg := range pending {
		if now.Sub(msg.EnqueuedAt) > MaxQueueAge || msg.AttemptCount >= DefaultMaxAttempts {
			_ = e.Store.RemoveMessage(ctx, msg.ID)
			dropped++
			continue
		}
		if msg.NextAttemptAt.After(now) {
			continue
		}

		target := msg.DestinationID
		if route, rerr := e.Store.GetRoute(ctx, msg.DestinationID); rerr == nil && route.NextHopID != "" && e.Sender.Connected(route.NextHopID) {
			target = route.NextHopID
		}
		if !e.Sender.Connected(target) {
			msg.AttemptCount++
			msg.NextAttemptAt = now.Add(NextBackoff(msg.AttemptCount))
			_ = e.Store.SaveMessage(ctx, msg)
			continue
		}

		if serr := e.Sender.SendTo(ctx, target, msg.Envelope); serr != nil {
			msg.AttemptCount++
			msg.NextAttemptAt = now.Add(NextBackoff(msg.AttemptCount))
			_ = e.Store.SaveMessage(ctx, msg)
			continue
		}

		_ = e.Store.RemoveMessage(ctx, msg.ID)
		sent++
	}

	return sent, dropped, nil
}
