// Package negotiation implements the multi-round offer/counter/accept
// state machine that advances two agents toward a committed agreement
// (spec.md §4.4).
package negotiation

import "time"

// State is a NegotiationSession's current FSM position.
type State string

const (
	StateInitial        State = "initial"
	StateOfferSent      State = "offer_sent"
	StateOfferReceived  State = "offer_received"
	StateCountering     State = "countering"
	StateAccepted       State = "accepted"
	StateRejected       State = "rejected"
	StateCommitted      State = "committed"
)

// MessageType names one inbound or outbound negotiation message.
type MessageType string

const (
	MessageOffer   MessageType = "offer"
	MessageCounter MessageType = "counter"
	MessageAccept  MessageType = "accept"
	MessageReject  MessageType = "reject"
	MessageCommit  MessageType = "commit"
)

// DefaultMaxRounds is the session round cap unless overridden.
const DefaultMaxRounds = 10

// DefaultExpiry is how long a session lives after creation unless
// overridden.
const DefaultExpiry = 24 * time.Hour

// Round is one recorded message within a session.
type Round struct {
	RoundNumber int         `json:"roundNumber"`
	Sender      string      `json:"sender"`
	MessageType MessageType `json:"messageType"`
	Payload     interface{} `json:"payload"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Session is one negotiation between two agents.
type Session struct {
	SessionID           string    `json:"sessionId"`
	MyAgentID           string    `json:"myAgentId"`
	CounterpartyAgentID string    `json:"counterpartyAgentId"`
	State               State     `json:"state"`
	Rounds              []Round   `json:"rounds"`
	MaxRounds           int       `json:"maxRounds"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	Commitment          interface{} `json:"commitment,omitempty"`
}

func (s *Session) terminal() bool {
	return s.State == StateRejected || s.State == StateCommitted
}

// transitions is the FSM table: (state, messageType) -> next state. The
// "initial" state's offer message is not in the table: it forks on
// sender and is handled in nextState.
type transitionKey struct {
	state State
	msg   MessageType
}

var transitions = map[transitionKey]State{
	{StateOfferSent, MessageCounter}:     StateCountering,
	{StateOfferSent, MessageAccept}:      StateAccepted,
	{StateOfferSent, MessageReject}:      StateRejected,
	{StateOfferReceived, MessageCounter}: StateCountering,
	{StateOfferReceived, MessageAccept}:  StateAccepted,
	{StateOfferReceived, MessageReject}:  StateRejected,
	{StateCountering, MessageCounter}:    StateCountering,
	{StateCountering, MessageAccept}:     StateAccepted,
	{StateCountering, MessageReject}:     StateRejected,
	{StateAccepted, MessageCommit}:       StateCommitted,
}
