package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridict/dispute-chat-api/client"
	"github.com/veridict/dispute-chat-api/models"
)

// fakeChannel is an in-process stand-in for the chat websocket endpoint. It
// records every frame the client sends, answers with whatever respond
// returns, and can push server-initiated broadcasts.
type fakeChannel struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	ws      *websocket.Conn
	frames  []models.Envelope
	writeMu sync.Mutex

	respond func(env models.Envelope) []models.Envelope
}

func newFakeChannel(t *testing.T, respond func(env models.Envelope) []models.Envelope) *fakeChannel {
	f := &fakeChannel{t: t, respond: respond}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.ws = ws
		f.mu.Unlock()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			f.mu.Lock()
			f.frames = append(f.frames, env)
			f.mu.Unlock()
			if f.respond != nil {
				for _, out := range f.respond(env) {
					f.write(out)
				}
			}
		}
	}))
	t.Cleanup(func() {
		f.srv.CloseClientConnections()
		f.srv.Close()
	})
	return f
}

func (f *fakeChannel) write(env models.Envelope) {
	payload, err := json.Marshal(env)
	require.NoError(f.t, err)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	require.NoError(f.t, f.ws.WriteMessage(websocket.TextMessage, payload))
}

// Push sends a server-initiated broadcast to the connected client
func (f *fakeChannel) Push(event string, data interface{}) {
	env, err := models.NewEnvelope(event, 0, data)
	require.NoError(f.t, err)
	f.write(env)
}

func (f *fakeChannel) URL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// Frames returns the recorded client frames for one event
func (f *fakeChannel) Frames(event string) []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Envelope
	for _, env := range f.frames {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func dial(t *testing.T, f *fakeChannel) *client.Conn {
	m := client.NewManager(f.URL(), client.Observer{})
	conn := m.Connect("chan-token")
	t.Cleanup(conn.Close)
	return conn
}

func ackEnv(t *testing.T, seq int64, data interface{}) models.Envelope {
	env, err := models.NewEnvelope(models.EventAck, seq, data)
	require.NoError(t, err)
	return env
}

func testMessage(id int64, author, body string) models.Message {
	return models.Message{
		ID:             id,
		DisputeID:      42,
		AuthorID:       author,
		AuthorUsername: author,
		AuthorRole:     models.RoleWitness,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionJoinSeedsAndReplacesHistory(t *testing.T) {
	joins := 0
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event != models.EventRoomJoin {
			return nil
		}
		joins++
		history := []models.Message{testMessage(1, "amy", "first"), testMessage(2, "bob", "second")}
		if joins > 1 {
			history = append(history, testMessage(3, "amy", "third"))
		}
		return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true, History: history})}
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	history, err := s.Join(testCtx(t))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].ID)
	assert.Equal(t, int64(2), history[1].ID)

	// rejoining replaces the log wholesale instead of appending
	history, err = s.Join(testCtx(t))
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Len(t, s.Messages(), 3)
}

func TestSessionJoinRejectedLeavesLogUntouched(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: false, Error: models.ErrCodeDisputeNotFound})}
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	var chErr *client.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeDisputeNotFound, chErr.Code)
	assert.Empty(t, s.Messages())
}

func TestSessionSendDedupesAckAndBroadcast(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		switch env.Event {
		case models.EventRoomJoin:
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		case models.EventMessageCreate:
			m := testMessage(7, "amy", "hello")
			created, err := models.NewEnvelope(models.EventMessageCreated, 0, m)
			require.NoError(t, err)
			// broadcast arrives before the ack; the log must hold one copy
			return []models.Envelope{created, ackEnv(t, env.Seq, models.CreateAck{OK: true, Message: &m})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	m, err := s.Send(testCtx(t), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ID)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
}

func TestSessionSendBlankRejectedLocally(t *testing.T) {
	f := newFakeChannel(t, nil)
	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Send(testCtx(t), "   ")
	var chErr *client.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeValidation, chErr.Code)
	assert.Empty(t, f.Frames(models.EventMessageCreate))
}

func TestSessionReadOnlyRoleNeverTouchesNetwork(t *testing.T) {
	f := newFakeChannel(t, nil)
	s := client.NewSession(dial(t, f), nil, "", 42, "root", "Root", models.RoleAdmin)
	defer s.Close()

	_, err := s.Send(testCtx(t), "hello")
	var chErr *client.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeNotAuthorized, chErr.Code)

	err = s.Remove(testCtx(t), 1)
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeNotAuthorized, chErr.Code)

	s.Keystroke()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.frames)
}

func TestSessionRemove(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		switch env.Event {
		case models.EventRoomJoin:
			history := []models.Message{testMessage(1, "amy", "mine"), testMessage(2, "bob", "theirs")}
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true, History: history})}
		case models.EventMessageDelete:
			return []models.Envelope{ackEnv(t, env.Seq, models.DeleteAck{OK: true})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	// another author's message is rejected locally
	err = s.Remove(testCtx(t), 2)
	var chErr *client.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeNotAuthorized, chErr.Code)
	assert.Empty(t, f.Frames(models.EventMessageDelete))

	require.NoError(t, s.Remove(testCtx(t), 1))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(2), msgs[0].ID)
}

func TestSessionDeletedBroadcastUnknownIDIsNoOp(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event == models.EventRoomJoin {
			history := []models.Message{testMessage(1, "amy", "only")}
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true, History: history})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	f.Push(models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: 99})
	f.Push(models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: 1})

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionFilesAddedPreservesOrder(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event == models.EventRoomJoin {
			m := testMessage(1, "amy", "with file")
			m.Attachments = []models.Attachment{{ID: "file-a", FileName: "a.png"}}
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true, History: []models.Message{m}})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	f.Push(models.EventFilesAdded, models.FilesAddedEvent{
		MessageID: 1,
		Files: []models.Attachment{
			{ID: "file-b", FileName: "b.png"},
			{ID: "file-c", FileName: "c.pdf"},
		},
	})

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && len(msgs[0].Attachments) == 3
	}, time.Second, 10*time.Millisecond)

	atts := s.Messages()[0].Attachments
	assert.Equal(t, []string{"file-a", "file-b", "file-c"}, []string{atts[0].ID, atts[1].ID, atts[2].ID})
}

func TestSessionTypingInboundExcludesSelf(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event == models.EventRoomJoin {
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	// the channel echoes the sender's own typing back; it must not render
	f.Push(models.EventTypingStart, models.TypingEvent{AccountID: "amy", Username: "amy"})
	f.Push(models.EventTypingStart, models.TypingEvent{AccountID: "bob", Username: "Bob"})

	require.Eventually(t, func() bool {
		return s.TypingLabel() == "Bob is typing…"
	}, time.Second, 10*time.Millisecond)

	f.Push(models.EventTypingStart, models.TypingEvent{AccountID: "cleo", Username: "Cleo"})
	require.Eventually(t, func() bool {
		return s.TypingLabel() == "Bob, Cleo are typing…"
	}, time.Second, 10*time.Millisecond)

	f.Push(models.EventTypingStop, models.TypingEvent{AccountID: "bob"})
	require.Eventually(t, func() bool {
		return s.TypingLabel() == "Cleo is typing…"
	}, time.Second, 10*time.Millisecond)
}

// TestWitnessConversationFlow drives the full path a witness takes: join the
// room, type, attach a photo, send, and watch the attachment land via the
// room broadcast.
func TestWitnessConversationFlow(t *testing.T) {
	var uploadMu sync.Mutex
	var uploadedNames []string
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/dispute/42/message/7/attachments", r.URL.Path)
		require.Equal(t, "Bearer rest-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		uploadMu.Lock()
		for _, fh := range r.MultipartForm.File["files"] {
			uploadedNames = append(uploadedNames, fh.Filename)
		}
		uploadMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer rest.Close()

	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		switch env.Event {
		case models.EventRoomJoin:
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		case models.EventMessageCreate:
			var req models.CreateRequest
			require.NoError(t, json.Unmarshal(env.Data, &req))
			require.Equal(t, int64(42), req.DisputeID)
			m := testMessage(7, "amy", req.Content)
			return []models.Envelope{ackEnv(t, env.Seq, models.CreateAck{OK: true, Message: &m})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), client.NewUploader(rest.URL), "rest-token", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	s.Keystroke()
	s.Keystroke()
	s.AttachFile(client.LocalFile{Name: "photo.png", MimeType: "image/png", Content: []byte("png-bytes")})

	m, err := s.Send(testCtx(t), "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", m.Body)
	assert.Empty(t, s.PendingFiles())

	uploadMu.Lock()
	assert.Equal(t, []string{"photo.png"}, uploadedNames)
	uploadMu.Unlock()

	// the server fans the stored attachment out to the room
	f.Push(models.EventFilesAdded, models.FilesAddedEvent{
		MessageID: 7,
		Files:     []models.Attachment{{ID: "file-1", FileName: "photo.png"}},
	})
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && len(msgs[0].Attachments) == 1
	}, time.Second, 10*time.Millisecond)

	// one typing window: a single start, then the stop emitted by Send
	require.Eventually(t, func() bool {
		return len(f.Frames(models.EventTypingStop)) == 1
	}, time.Second, 10*time.Millisecond)
	starts := f.Frames(models.EventTypingStart)
	require.Len(t, starts, 1)

	var started models.TypingEvent
	require.NoError(t, json.Unmarshal(starts[0].Data, &started))
	assert.Equal(t, int64(42), started.DisputeID)
	assert.Equal(t, "amy", started.AccountID)
	assert.Equal(t, "Amy", started.Username)

	var stopped models.TypingEvent
	require.NoError(t, json.Unmarshal(f.Frames(models.EventTypingStop)[0].Data, &stopped))
	assert.Equal(t, "amy", stopped.AccountID)
	assert.Empty(t, stopped.Username)
}

func TestSessionSendUploadFailureKeepsMessage(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rest.Close()

	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		switch env.Event {
		case models.EventRoomJoin:
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		case models.EventMessageCreate:
			m := testMessage(3, "amy", "body")
			return []models.Envelope{ackEnv(t, env.Seq, models.CreateAck{OK: true, Message: &m})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), client.NewUploader(rest.URL), "rest-token", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	s.AttachFile(client.LocalFile{Name: "doc.pdf", Content: []byte("pdf")})
	m, err := s.Send(testCtx(t), "body")
	require.ErrorIs(t, err, client.ErrUploadFailed)
	require.NotNil(t, m)

	// the message stands and the queue is consumed either way
	assert.Len(t, s.Messages(), 1)
	assert.Empty(t, s.PendingFiles())
}

func TestSessionJoinKeepsMessagesNewerThanHistory(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event != models.EventRoomJoin {
			return nil
		}
		// a message created while the join was in flight: its broadcast lands
		// ahead of a history snapshot that predates it
		racing, err := models.NewEnvelope(models.EventMessageCreated, 0, testMessage(3, "bob", "raced in"))
		require.NoError(t, err)
		history := []models.Message{testMessage(1, "amy", "first"), testMessage(2, "bob", "second")}
		return []models.Envelope{racing, ackEnv(t, env.Seq, models.JoinAck{OK: true, History: history})}
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	history, err := s.Join(testCtx(t))
	require.NoError(t, err)

	require.Len(t, history, 3)
	assert.Equal(t, int64(1), history[0].ID)
	assert.Equal(t, int64(2), history[1].ID)
	assert.Equal(t, int64(3), history[2].ID)
	assert.Equal(t, "raced in", history[2].Body)
}

func TestSessionSendRejectedKeepsQueueAndTyping(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		switch env.Event {
		case models.EventRoomJoin:
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		case models.EventMessageCreate:
			return []models.Envelope{ackEnv(t, env.Seq, models.CreateAck{OK: false, Error: models.ErrCodeInternal})}
		}
		return nil
	})

	s := client.NewSession(dial(t, f), nil, "", 42, "amy", "Amy", models.RoleWitness)
	defer s.Close()

	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	s.Keystroke()
	s.AttachFile(client.LocalFile{Name: "doc.pdf", Content: []byte("pdf")})

	_, err = s.Send(testCtx(t), "body")
	var chErr *client.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, models.ErrCodeInternal, chErr.Code)

	// the rejected create consumes nothing: the file queue survives and the
	// typing window stays open
	assert.Len(t, s.PendingFiles(), 1)
	assert.Empty(t, s.Messages())
	assert.Empty(t, f.Frames(models.EventTypingStop))
	assert.Len(t, f.Frames(models.EventTypingStart), 1)
}

func TestSessionCloseDetachesHandlers(t *testing.T) {
	f := newFakeChannel(t, func(env models.Envelope) []models.Envelope {
		if env.Event == models.EventRoomJoin {
			return []models.Envelope{ackEnv(t, env.Seq, models.JoinAck{OK: true})}
		}
		return nil
	})

	conn := dial(t, f)
	s := client.NewSession(conn, nil, "", 42, "amy", "Amy", models.RoleWitness)
	_, err := s.Join(testCtx(t))
	require.NoError(t, err)

	s.Close()
	f.Push(models.EventMessageCreated, testMessage(1, "bob", "after close"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Messages())
}
