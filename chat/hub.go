// Package chat implements the realtime dispute channel: per-dispute rooms over
// websocket connections, join/history replay, message create/delete, typing
// rebroadcast, and the files-attached fanout used by the upload side-channel.
package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/databases"
	"github.com/veridict/dispute-chat-api/models"
)

// Hub routes broadcasts to dispute rooms. All room membership mutations and
// fanout go through the hub goroutine, so clients in a room observe events in
// a single emission order.
type Hub struct {
	Messages databases.MessageDatabase
	Disputes databases.DisputeDatabase
	Counters databases.CounterDatabase

	notifier Notifier

	join       chan joinEvent
	unregister chan *Client
	events     chan roomEvent
}

type joinEvent struct {
	client    *Client
	disputeID int64
}

type roomEvent struct {
	disputeID int64
	payload   []byte
	exclude   *Client

	// set for message:created so offline participants can be notified
	dispute *models.Dispute
	message *models.Message
}

// NewHub creates a hub over the given databases. notifier may be nil to
// disable offline mail.
func NewHub(messages databases.MessageDatabase, disputes databases.DisputeDatabase, counters databases.CounterDatabase, notifier Notifier) *Hub {
	return &Hub{
		Messages:   messages,
		Disputes:   disputes,
		Counters:   counters,
		notifier:   notifier,
		join:       make(chan joinEvent),
		unregister: make(chan *Client),
		events:     make(chan roomEvent, 64),
	}
}

// Run processes registrations and fanout until the process exits. Call in its
// own goroutine.
func (h *Hub) Run() {
	rooms := make(map[int64]map[*Client]bool)
	live := make(map[*Client]bool)

	drop := func(c *Client) {
		if !live[c] {
			return
		}
		delete(live, c)
		for disputeID, members := range rooms {
			delete(members, c)
			if len(members) == 0 {
				delete(rooms, disputeID)
			}
		}
		c.shutdown()
	}

	for {
		select {
		case j := <-h.join:
			live[j.client] = true
			if rooms[j.disputeID] == nil {
				rooms[j.disputeID] = make(map[*Client]bool)
			}
			rooms[j.disputeID][j.client] = true

		case c := <-h.unregister:
			drop(c)

		case ev := <-h.events:
			online := make(map[string]bool)
			for c := range rooms[ev.disputeID] {
				online[c.accountID] = true
				if c == ev.exclude {
					continue
				}
				select {
				case c.send <- ev.payload:
				default:
					// slow consumer, drop the connection
					zap.S().Warnw("dropping slow chat client", "accountId", c.accountID)
					drop(c)
				}
			}
			if ev.dispute != nil && ev.message != nil && h.notifier != nil {
				go h.notifyOffline(ev.dispute, ev.message, online)
			}
		}
	}
}

// Broadcast marshals the event into an envelope and fans it out to every
// connection joined to the dispute's room. Used by connection handlers and by
// the attachment upload handler for message:filesAdded.
func (h *Hub) Broadcast(disputeID int64, event string, data interface{}) {
	h.broadcast(roomEvent{disputeID: disputeID}, event, data)
}

func (h *Hub) broadcastMessageCreated(dispute *models.Dispute, msg models.Message) {
	h.broadcast(roomEvent{disputeID: dispute.ID, dispute: dispute, message: &msg}, models.EventMessageCreated, msg)
}

func (h *Hub) broadcast(ev roomEvent, event string, data interface{}) {
	env, err := models.NewEnvelope(event, 0, data)
	if err != nil {
		zap.S().Errorw("failed to marshal broadcast", "event", event, "error", err)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.S().Errorw("failed to marshal broadcast envelope", "event", event, "error", err)
		return
	}
	ev.payload = payload
	h.events <- ev
}

func (h *Hub) notifyOffline(dispute *models.Dispute, msg *models.Message, online map[string]bool) {
	for _, p := range dispute.Participants {
		if online[p.AccountID] || p.AccountID == msg.AuthorID || p.Email == "" {
			continue
		}
		if err := h.notifier.NotifyOffline(context.Background(), p, dispute, msg); err != nil {
			zap.S().Errorw("offline notification failed",
				"accountId", p.AccountID,
				"disputeId", dispute.ID,
				"error", err)
		}
	}
}
