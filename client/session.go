package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/models"
)

// ErrUploadFailed reports that a message was created durably but one or more
// of its pending attachments could not be stored. The message itself is not
// rolled back.
var ErrUploadFailed = errors.New("attachment upload failed")

// ChannelError is a rejected request, carrying the code surfaced in the ack
type ChannelError struct {
	Code string
}

func (e *ChannelError) Error() string {
	return "chat channel error: " + e.Code
}

// Session drives one participant's view of one dispute room: the ordered
// message log seeded by Join and kept current by room broadcasts, the pending
// attachment queue consumed by Send, and typing presence in both directions.
// All methods are safe for concurrent use.
type Session struct {
	DisputeID int64
	AccountID string
	Username  string
	Role      models.Role

	conn     *Conn
	uploader *Uploader
	token    string

	log    *messageLog
	typing *TypingTracker

	mu      sync.Mutex
	pending []LocalFile
	detach  []func()
	closed  bool
}

// NewSession binds a session to the channel connection and subscribes it to
// the room broadcasts. token authenticates attachment uploads on the REST
// side-channel; uploader may be nil when the embedding application never
// attaches files.
func NewSession(conn *Conn, uploader *Uploader, token string, disputeID int64, accountID, username string, role models.Role) *Session {
	s := &Session{
		DisputeID: disputeID,
		AccountID: accountID,
		Username:  username,
		Role:      role,
		conn:      conn,
		uploader:  uploader,
		token:     token,
		log:       newMessageLog(),
	}
	s.typing = NewTypingTracker(accountID, s.emitTyping)

	s.detach = []func(){
		conn.Subscribe(models.EventMessageCreated, s.onMessageCreated),
		conn.Subscribe(models.EventMessageDeleted, s.onMessageDeleted),
		conn.Subscribe(models.EventFilesAdded, s.onFilesAdded),
		conn.Subscribe(models.EventTypingStart, s.onTypingStart),
		conn.Subscribe(models.EventTypingStop, s.onTypingStop),
	}
	return s
}

// Join enters the dispute room and seeds the log from the returned history,
// replacing any prior content. Joining again after a reconnect is the
// expected recovery path; a rejected join leaves the log untouched.
func (s *Session) Join(ctx context.Context) ([]models.Message, error) {
	raw, err := s.conn.Request(ctx, models.EventRoomJoin, models.JoinRequest{DisputeID: s.DisputeID})
	if err != nil {
		return nil, err
	}

	var ack models.JoinAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, err
	}
	if !ack.OK {
		return nil, &ChannelError{Code: ack.Error}
	}

	s.log.replace(ack.History)
	return s.log.snapshot(), nil
}

// Send creates a message with the given body and the queued attachments. A
// blank body with no queued files is rejected locally without touching the
// network. On success the queue is consumed and uploaded; if the upload fails
// the created message stands and ErrUploadFailed is returned alongside it.
func (s *Session) Send(ctx context.Context, body string) (*models.Message, error) {
	if !PolicyFor(s.Role).CanWrite {
		return nil, &ChannelError{Code: models.ErrCodeNotAuthorized}
	}
	if strings.TrimSpace(body) == "" && len(s.PendingFiles()) == 0 {
		return nil, &ChannelError{Code: models.ErrCodeValidation}
	}

	raw, err := s.conn.Request(ctx, models.EventMessageCreate, models.CreateRequest{
		DisputeID: s.DisputeID,
		Content:   body,
	})
	if err != nil {
		return nil, err
	}

	var ack models.CreateAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, err
	}
	if !ack.OK || ack.Message == nil {
		return nil, &ChannelError{Code: ack.Error}
	}

	// presence must not linger once the composed content is sent; a failed
	// send keeps the typing window open
	s.typing.StopNow()

	// the room broadcast may already have inserted this message
	s.log.insert(*ack.Message)

	files := s.takePendingFiles()
	if len(files) > 0 {
		if s.uploader == nil || !s.uploader.Upload(ctx, s.token, s.DisputeID, ack.Message.ID, files) {
			return ack.Message, ErrUploadFailed
		}
	}
	return ack.Message, nil
}

// Remove deletes one of the user's own messages. Deleting another author's
// message is rejected locally when the log can prove it; otherwise the server
// decides.
func (s *Session) Remove(ctx context.Context, messageID int64) error {
	if !PolicyFor(s.Role).CanDelete {
		return &ChannelError{Code: models.ErrCodeNotAuthorized}
	}
	if m, ok := s.log.get(messageID); ok && m.AuthorID != s.AccountID {
		return &ChannelError{Code: models.ErrCodeNotAuthorized}
	}

	raw, err := s.conn.Request(ctx, models.EventMessageDelete, models.DeleteRequest{
		DisputeID: s.DisputeID,
		MessageID: messageID,
	})
	if err != nil {
		return err
	}

	var ack models.DeleteAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return &ChannelError{Code: ack.Error}
	}

	s.log.remove(messageID)
	return nil
}

// AttachFile queues a local file for the next successful Send
func (s *Session) AttachFile(f LocalFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, f)
}

// PendingFiles returns a copy of the queued attachments
func (s *Session) PendingFiles() []LocalFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalFile, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Session) takePendingFiles() []LocalFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.pending
	s.pending = nil
	return files
}

// Keystroke records local typing activity for the presence signal
func (s *Session) Keystroke() {
	if !PolicyFor(s.Role).CanWrite {
		return
	}
	s.typing.Keystroke()
}

// TypingLabel renders the "X is typing…" line for the room
func (s *Session) TypingLabel() string {
	return s.typing.Label()
}

// Messages returns a copy of the ordered message log
func (s *Session) Messages() []models.Message {
	return s.log.snapshot()
}

// Timeline returns the log with day dividers inserted, labeled relative to now
func (s *Session) Timeline(now time.Time) []TimelineItem {
	return GroupByDay(s.log.snapshot(), now)
}

// Close detaches the session from the channel and stops typing presence.
// After Close returns no broadcast handler runs again; the connection itself
// stays open for other sessions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	s.typing.Close()
}

func (s *Session) emitTyping(active bool) {
	event := models.EventTypingStart
	payload := models.TypingEvent{
		DisputeID: s.DisputeID,
		AccountID: s.AccountID,
		Username:  s.Username,
	}
	if !active {
		event = models.EventTypingStop
		payload.Username = ""
	}
	if err := s.conn.Notify(event, payload); err != nil {
		zap.S().Debugw("typing signal dropped", "event", event, "error", err)
	}
}

func (s *Session) onMessageCreated(raw json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		zap.S().Debugw("ignoring malformed message:created", "error", err)
		return
	}
	s.log.insert(m)
	// a delivered message ends its author's typing window
	s.typing.applyStop(m.AuthorID)
}

func (s *Session) onMessageDeleted(raw json.RawMessage) {
	var ev models.MessageDeletedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		zap.S().Debugw("ignoring malformed message:deleted", "error", err)
		return
	}
	s.log.remove(ev.MessageID)
}

func (s *Session) onFilesAdded(raw json.RawMessage) {
	var ev models.FilesAddedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		zap.S().Debugw("ignoring malformed message:filesAdded", "error", err)
		return
	}
	s.log.addFiles(ev.MessageID, ev.Files)
}

func (s *Session) onTypingStart(raw json.RawMessage) {
	var ev models.TypingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	s.typing.applyStart(ev.AccountID, ev.Username)
}

func (s *Session) onTypingStop(raw json.RawMessage) {
	var ev models.TypingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	s.typing.applyStop(ev.AccountID)
}
