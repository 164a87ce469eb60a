package models

import "encoding/json"

// Event names carried on the chat channel. Requests flow client to server and
// are answered with an EventAck envelope echoing the request seq; broadcasts
// flow server to room with seq 0.
const (
	EventAck = "ack"

	EventRoomJoin      = "room:join"
	EventMessageCreate = "message:create"
	EventMessageDelete = "message:delete"
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"

	EventMessageCreated = "message:created"
	EventMessageDeleted = "message:deleted"
	EventFilesAdded     = "message:filesAdded"
)

// Channel error codes surfaced in acks
const (
	ErrCodeDisputeNotFound = "dispute_not_found"
	ErrCodeNotParticipant  = "not_participant"
	ErrCodeNotAuthorized   = "not_authorized"
	ErrCodeValidation      = "validation_failed"
	ErrCodeInternal        = "internal_error"
)

// Envelope frames every message on the chat channel
type Envelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event and seq
func NewEnvelope(event string, seq int64, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Seq: seq, Data: raw}, nil
}

// JoinRequest asks to enter a dispute room and receive its history
type JoinRequest struct {
	DisputeID int64 `json:"disputeId"`
}

// JoinAck answers a JoinRequest. History is ordered by message id ascending and
// only present when OK is true.
type JoinAck struct {
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	History []Message `json:"history,omitempty"`
}

// CreateRequest asks the server to create a message
type CreateRequest struct {
	DisputeID int64  `json:"disputeId"`
	Content   string `json:"content"`
}

// CreateAck answers a CreateRequest with the durably created message
type CreateAck struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// DeleteRequest asks the server to delete a message
type DeleteRequest struct {
	DisputeID int64 `json:"disputeId"`
	MessageID int64 `json:"messageId"`
}

// DeleteAck answers a DeleteRequest
type DeleteAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TypingEvent is both the outbound typing signal and the rebroadcast form.
// Username is empty on typing:stop.
type TypingEvent struct {
	DisputeID int64  `json:"disputeId,omitempty"`
	AccountID string `json:"accountId"`
	Username  string `json:"username,omitempty"`
}

// MessageDeletedEvent is broadcast to a room when a message is removed
type MessageDeletedEvent struct {
	MessageID int64 `json:"messageId"`
}

// FilesAddedEvent is broadcast to a room after attachments are stored for a message
type FilesAddedEvent struct {
	MessageID int64        `json:"messageId"`
	Files     []Attachment `json:"files"`
}
