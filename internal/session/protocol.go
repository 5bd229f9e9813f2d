package session

import "encoding/json"

// Path is the websocket endpoint on the session server.
const Path = "/session"

type MessageType string

const (
	MsgAccepted MessageType = "accepted"
	MsgRejected MessageType = "rejected"
)

// Message is what the server writes; the client decodes into envelope.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type AcceptedPayload struct {
	SessionID      string `json:"sessionId"`
	ClientID       uint64 `json:"clientId"`
	TimeoutSeconds int32  `json:"timeoutSeconds"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
}

// Rejection reasons. They double as the result label on the session request
// counter.
const (
	ReasonMalformed   = "malformed"
	ReasonInvalid     = "invalid"
	ReasonWrongServer = "wrong_server"
	ReasonUnknown     = "unknown_grant"
	ReasonReplayed    = "replayed"
	ReasonExpired     = "expired"
	ReasonDuplicate   = "duplicate_client"
	ReasonInternal    = "internal"
)

// RejectedError is returned by the client when the server refuses the
// connection request.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "session rejected: " + e.Reason
}
