package negotiation

import (
	"context"
	"encoding/hex"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/canonjson"
)

// AcceptanceMessage is emitted once a session reaches StateAccepted: the
// agreement hash binds the accepted terms so a counterparty's commit
// cannot silently diverge from what was actually accepted.
type AcceptanceMessage struct {
	SessionID      string      `json:"sessionId"`
	AgreementHash  string      `json:"agreementHash"`
	AcceptedPrice  interface{} `json:"acceptedPrice"`
	Terms          interface{} `json:"terms"`
}

// BuildAcceptanceMessage computes the agreement hash — SHA-256 over the
// canonical JSON of the session's last round payload — once session has
// reached StateAccepted.
func BuildAcceptanceMessage(facade aespcrypto.Facade, session *Session, acceptedPrice, terms interface{}) (*AcceptanceMessage, error) {
	if session.State != StateAccepted {
		return nil, aesperrors.New(aesperrors.NegotiationError, "session has not reached accepted state")
	}
	if len(session.Rounds) == 0 {
		return nil, aesperrors.New(aesperrors.NegotiationError, "session has no rounds to hash")
	}
	last := session.Rounds[len(session.Rounds)-1]
	payload, err := canonjson.Marshal(last.Payload)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.NegotiationError, "canonicalize last round payload", err)
	}
	hash := facade.SHA256(payload)
	return &AcceptanceMessage{
		SessionID:     session.SessionID,
		AgreementHash: hex.EncodeToString(hash),
		AcceptedPrice: acceptedPrice,
		Terms:         terms,
	}, nil
}

// InboundMessage is a signed message claiming to come from senderAgentID
// for sessionID.
type InboundMessage struct {
	SessionID     string
	SenderAgentID string
	MessageType   MessageType
	Payload       interface{}
	Signature     *aespcrypto.Signature
}

// VerifyInbound rejects msg before any FSM transition unless its
// signature verifies against senderAgentID's identity and senderAgentID
// is one of the session's two participants (spec.md §4.4).
func VerifyInbound(ctx context.Context, facade aespcrypto.Facade, session *Session, msg InboundMessage) error {
	if msg.SenderAgentID != session.MyAgentID && msg.SenderAgentID != session.CounterpartyAgentID {
		return aesperrors.New(aesperrors.NegotiationError, "senderAgentId is not a session participant")
	}
	payload, err := canonjson.Marshal(msg.Payload)
	if err != nil {
		return aesperrors.Wrap(aesperrors.NegotiationError, "canonicalize inbound payload", err)
	}
	ok, err := facade.VerifyWithIdentity(ctx, msg.SenderAgentID, payload, msg.Signature)
	if err != nil {
		return aesperrors.Wrap(aesperrors.NegotiationError, "verify inbound signature", err)
	}
	if !ok {
		return aesperrors.New(aesperrors.NegotiationError, "inbound signature does not verify")
	}
	return nil
}
