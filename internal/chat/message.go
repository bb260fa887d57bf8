package chat

import "time"

// DeliveryState tracks how far a message has made it toward the server.
type DeliveryState int

const (
	// Pending is a locally-synthesized message awaiting the server's broadcast.
	Pending DeliveryState = iota
	// Sent means the server's authoritative copy replaced the local one.
	Sent
	// Failed means the send never left: the record stays visible but is
	// excluded from confirmed semantics and never matched by a broadcast.
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MsgID distinguishes an optimistic local id from a server-assigned durable
// id. Only confirmed ids are meaningful outside the sending client.
type MsgID struct {
	Value     string `json:"value"`
	Confirmed bool   `json:"confirmed"`
}

func OptimisticID(tempID string) MsgID { return MsgID{Value: tempID} }
func ConfirmedID(id string) MsgID      { return MsgID{Value: id, Confirmed: true} }

// Message is one chat entry in a case conversation.
type Message struct {
	ID         MsgID         `json:"id"`
	CaseID     string        `json:"caseId"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName"`
	Body       string        `json:"body"`
	SentAt     time.Time     `json:"sentAt"`
	Delivery   DeliveryState `json:"delivery"`
	ReadBy     []string      `json:"readBy,omitempty"`
}

// ReadByContains reports whether userID already appears in the read set.
func (m Message) ReadByContains(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// WireMessage is the server's JSON shape for a message, used both by the REST
// history endpoint and by channel broadcasts.
type WireMessage struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"caseId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
	ReadBy     []string  `json:"readBy,omitempty"`
}

// Message converts a wire message into a confirmed, delivered Message.
func (w WireMessage) Message() Message {
	return Message{
		ID:         ConfirmedID(w.ID),
		CaseID:     w.CaseID,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Body:       w.Body,
		SentAt:     w.SentAt,
		Delivery:   Sent,
		ReadBy:     w.ReadBy,
	}
}
