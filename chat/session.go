package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/api"
	"github.com/veridict/dispute-chat-api/models"
)

type roomState struct {
	role models.Role
}

// dispatch routes one inbound envelope from the connection's read pump. All
// handlers run on the read pump goroutine, so a single connection's requests
// are processed strictly in order.
func (c *Client) dispatch(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		zap.S().Debugw("ignoring malformed envelope", "accountId", c.accountID, "error", err)
		return
	}

	switch env.Event {
	case models.EventRoomJoin:
		c.handleJoin(env)
	case models.EventMessageCreate:
		c.handleCreate(env)
	case models.EventMessageDelete:
		c.handleDelete(env)
	case models.EventTypingStart, models.EventTypingStop:
		c.handleTyping(env)
	default:
		zap.S().Debugw("ignoring unknown event", "event", env.Event, "accountId", c.accountID)
	}
}

func (c *Client) handleJoin(env models.Envelope) {
	var req models.JoinRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		c.ack(env.Seq, models.JoinAck{OK: false, Error: models.ErrCodeValidation})
		return
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	dispute, err := c.hub.Disputes.FindByID(ctx, req.DisputeID)
	if err != nil {
		c.ack(env.Seq, models.JoinAck{OK: false, Error: models.ErrCodeDisputeNotFound})
		return
	}

	role, ok := dispute.RoleOf(c.accountID)
	if !ok {
		c.ack(env.Seq, models.JoinAck{OK: false, Error: models.ErrCodeNotParticipant})
		return
	}

	history, err := c.hub.Messages.FindByDispute(ctx, req.DisputeID)
	if err != nil {
		c.ack(env.Seq, models.JoinAck{OK: false, Error: models.ErrCodeInternal})
		return
	}
	if history == nil {
		history = []models.Message{}
	}

	// join the room before acking so no broadcast emitted after the history
	// snapshot can be missed
	c.rooms[req.DisputeID] = roomState{role: role}
	c.hub.join <- joinEvent{client: c, disputeID: req.DisputeID}

	c.ack(env.Seq, models.JoinAck{OK: true, History: history})
}

func (c *Client) handleCreate(env models.Envelope) {
	var req models.CreateRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeValidation})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeValidation})
		return
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	dispute, role, errCode := c.resolveRole(ctx, req.DisputeID)
	if errCode != "" {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: errCode})
		return
	}
	if !role.Writable() {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeNotAuthorized})
		return
	}

	id, err := c.hub.Counters.NextMessageID(ctx, req.DisputeID)
	if err != nil {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeInternal})
		return
	}

	msg := models.Message{
		ID:             id,
		DisputeID:      req.DisputeID,
		AuthorID:       c.accountID,
		AuthorUsername: c.username,
		AuthorAvatarID: c.avatarID,
		AuthorRole:     role,
		Body:           req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.hub.Messages.InsertOne(ctx, msg); err != nil {
		c.ack(env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeInternal})
		return
	}

	// the author receives both the ack and the broadcast; clients dedupe by id
	c.ack(env.Seq, models.CreateAck{OK: true, Message: &msg})
	c.hub.broadcastMessageCreated(dispute, msg)
}

func (c *Client) handleDelete(env models.Envelope) {
	var req models.DeleteRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		c.ack(env.Seq, models.DeleteAck{OK: false, Error: models.ErrCodeValidation})
		return
	}

	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	_, role, errCode := c.resolveRole(ctx, req.DisputeID)
	if errCode != "" {
		c.ack(env.Seq, models.DeleteAck{OK: false, Error: errCode})
		return
	}
	if !role.Writable() {
		c.ack(env.Seq, models.DeleteAck{OK: false, Error: models.ErrCodeNotAuthorized})
		return
	}

	msg, err := c.hub.Messages.FindOne(ctx, map[string]interface{}{"disputeId": req.DisputeID, "id": req.MessageID})
	if err != nil {
		// already gone; deletes are idempotent
		c.ack(env.Seq, models.DeleteAck{OK: true})
		return
	}
	if msg.AuthorID != c.accountID {
		c.ack(env.Seq, models.DeleteAck{OK: false, Error: models.ErrCodeNotAuthorized})
		return
	}

	removed, err := c.hub.Messages.DeleteOne(ctx, req.DisputeID, req.MessageID)
	if err != nil {
		c.ack(env.Seq, models.DeleteAck{OK: false, Error: models.ErrCodeInternal})
		return
	}

	c.ack(env.Seq, models.DeleteAck{OK: true})
	if removed {
		c.hub.Broadcast(req.DisputeID, models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: req.MessageID})
	}
}

// handleTyping rebroadcasts presence to the room. No persistence, no ack; the
// sender's identity is taken from the connection, not the payload.
func (c *Client) handleTyping(env models.Envelope) {
	var req models.TypingEvent
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}
	if _, joined := c.rooms[req.DisputeID]; !joined {
		return
	}

	out := models.TypingEvent{AccountID: c.accountID}
	if env.Event == models.EventTypingStart {
		out.Username = c.username
	}
	c.hub.Broadcast(req.DisputeID, env.Event, out)
}

// resolveRole returns the caller's role in the dispute, preferring the role
// cached at join time.
func (c *Client) resolveRole(ctx context.Context, disputeID int64) (*models.Dispute, models.Role, string) {
	dispute, err := c.hub.Disputes.FindByID(ctx, disputeID)
	if err != nil {
		return nil, "", models.ErrCodeDisputeNotFound
	}
	if state, joined := c.rooms[disputeID]; joined {
		return dispute, state.role, ""
	}
	role, ok := dispute.RoleOf(c.accountID)
	if !ok {
		return nil, "", models.ErrCodeNotParticipant
	}
	return dispute, role, ""
}

func (c *Client) ack(seq int64, data interface{}) {
	env, err := models.NewEnvelope(models.EventAck, seq, data)
	if err != nil {
		zap.S().Errorw("failed to marshal ack", "error", err)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.S().Errorw("failed to marshal ack envelope", "error", err)
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}
