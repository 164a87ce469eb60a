package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veridict/dispute-chat-api/api"
	"github.com/veridict/dispute-chat-api/api/handlers"
	"github.com/veridict/dispute-chat-api/chat"
	"github.com/veridict/dispute-chat-api/models"
)

type stubMessageDB struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (s *stubMessageDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := filter.(bson.M)
	if !ok {
		return nil, errors.New("unexpected filter shape")
	}
	for i := range s.msgs {
		m := s.msgs[i]
		if dispute, ok := q["disputeId"].(int64); ok && m.DisputeID != dispute {
			continue
		}
		if id, ok := q["id"].(int64); ok && m.ID != id {
			continue
		}
		if fileID, ok := q["attachments.id"].(string); ok {
			found := false
			for _, a := range m.Attachments {
				if a.ID == fileID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		return &m, nil
	}
	return nil, errors.New("no documents")
}

func (s *stubMessageDB) FindByDispute(ctx context.Context, disputeID int64) ([]models.Message, error) {
	return nil, nil
}

func (s *stubMessageDB) InsertOne(ctx context.Context, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, message)
	return nil
}

func (s *stubMessageDB) DeleteOne(ctx context.Context, disputeID, messageID int64) (bool, error) {
	return false, nil
}

func (s *stubMessageDB) DeleteByDisputes(ctx context.Context, disputeIDs []int64) (int64, error) {
	return 0, nil
}

func (s *stubMessageDB) PushAttachments(ctx context.Context, disputeID, messageID int64, files []models.Attachment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].DisputeID == disputeID && s.msgs[i].ID == messageID {
			s.msgs[i].Attachments = append(s.msgs[i].Attachments, files...)
			return true, nil
		}
	}
	return false, nil
}

type stubFileStore struct {
	mu      sync.Mutex
	saved   map[string][]byte
	saveErr error
}

func newStubFileStore() *stubFileStore {
	return &stubFileStore{saved: map[string][]byte{}}
}

func (s *stubFileStore) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[key] = content
	return "stored://" + key, nil
}

func (s *stubFileStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, content := range s.saved {
		if "stored://"+key == storageKey {
			return io.NopCloser(bytes.NewReader(content)), nil
		}
	}
	return nil, errors.New("not stored")
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("files", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, accountID string, body *bytes.Buffer, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispute/42/message/7/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = mux.SetURLVars(req, map[string]string{"dispute_id": "42", "message_id": "7"})
	if accountID != "" {
		req = req.WithContext(api.WithAuthUser(req.Context(), api.AuthUser{AccountID: accountID}))
	}
	return req
}

func testHub() *chat.Hub {
	hub := chat.NewHub(nil, nil, nil, nil)
	go hub.Run()
	return hub
}

func TestAttachmentUploadHandler(t *testing.T) {
	mdb := &stubMessageDB{msgs: []models.Message{{ID: 7, DisputeID: 42, AuthorID: "amy", Body: "hello"}}}
	store := newStubFileStore()
	a := handlers.Attachment{MDB: mdb, Store: store, Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "amy", body, contentType))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.FilesAddedEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.MessageID)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "photo.png", resp.Files[0].FileName)
	assert.NotEmpty(t, resp.Files[0].ID)

	// stored bytes and message metadata both updated
	store.mu.Lock()
	assert.Len(t, store.saved, 1)
	store.mu.Unlock()
	msg, err := mdb.FindOne(context.Background(), bson.M{"disputeId": int64(42), "id": int64(7)})
	require.NoError(t, err)
	assert.Len(t, msg.Attachments, 1)
}

func TestAttachmentUploadHandlerAuthorOnly(t *testing.T) {
	mdb := &stubMessageDB{msgs: []models.Message{{ID: 7, DisputeID: 42, AuthorID: "amy"}}}
	a := handlers.Attachment{MDB: mdb, Store: newStubFileStore(), Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "bob", body, contentType))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "only the author may attach files")
}

func TestAttachmentUploadHandlerMessageNotFound(t *testing.T) {
	a := handlers.Attachment{MDB: &stubMessageDB{}, Store: newStubFileStore(), Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "amy", body, contentType))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAttachmentUploadHandlerUnauthenticated(t *testing.T) {
	a := handlers.Attachment{MDB: &stubMessageDB{}, Store: newStubFileStore(), Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "", body, contentType))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAttachmentUploadHandlerStorageUnavailable(t *testing.T) {
	a := handlers.Attachment{MDB: &stubMessageDB{}, Store: nil, Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "amy", body, contentType))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAttachmentUploadHandlerStorageFailure(t *testing.T) {
	mdb := &stubMessageDB{msgs: []models.Message{{ID: 7, DisputeID: 42, AuthorID: "amy"}}}
	store := newStubFileStore()
	store.saveErr = errors.New("bucket offline")
	a := handlers.Attachment{MDB: mdb, Store: store, Hub: testHub()}

	body, contentType := multipartBody(t, "photo.png", "png-bytes")
	rr := httptest.NewRecorder()
	a.UploadHandler(rr, uploadRequest(t, "amy", body, contentType))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	// nothing was appended to the message
	msg, err := mdb.FindOne(context.Background(), bson.M{"disputeId": int64(42), "id": int64(7)})
	require.NoError(t, err)
	assert.Empty(t, msg.Attachments)
}

func TestAttachmentDownloadHandler(t *testing.T) {
	store := newStubFileStore()
	key, err := store.Save(context.Background(), "disputes/42/7/file-1", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)

	size := int64(9)
	now := time.Now().UTC()
	mdb := &stubMessageDB{msgs: []models.Message{{
		ID: 7, DisputeID: 42, AuthorID: "amy",
		Attachments: []models.Attachment{{
			ID: "file-1", FileName: "photo.png", FileSize: &size,
			MimeType: "image/png", StorageKey: key, UploadedAt: &now,
		}},
	}}}
	a := handlers.Attachment{MDB: mdb, Store: store, Hub: testHub()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispute/42/file/file-1", nil)
	req = mux.SetURLVars(req, map[string]string{"dispute_id": "42", "file_id": "file-1"})
	rr := httptest.NewRecorder()
	a.DownloadHandler(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="photo.png"`)
	assert.Equal(t, "png-bytes", rr.Body.String())
}

func TestAttachmentDownloadHandlerNotFound(t *testing.T) {
	a := handlers.Attachment{MDB: &stubMessageDB{}, Store: newStubFileStore(), Hub: testHub()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispute/42/file/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"dispute_id": "42", "file_id": "nope"})
	rr := httptest.NewRecorder()
	a.DownloadHandler(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
