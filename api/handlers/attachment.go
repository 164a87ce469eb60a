package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/api"
	"github.com/veridict/dispute-chat-api/chat"
	"github.com/veridict/dispute-chat-api/config"
	"github.com/veridict/dispute-chat-api/databases"
	"github.com/veridict/dispute-chat-api/models"
	"github.com/veridict/dispute-chat-api/storage"
)

// maxUploadBytes caps a single attachment upload request
const maxUploadBytes = 32 << 20

// Attachment exported for testing purposes
type Attachment struct {
	MDB   databases.MessageDatabase
	Store storage.FileStore
	Hub   *chat.Hub
}

// UploadHandler accepts a multipart upload for an already-created message,
// stores every part, appends the metadata to the message and broadcasts
// message:filesAdded to the dispute room. The response is 2xx only if every
// part was stored; nothing is broadcast on failure.
func (a Attachment) UploadHandler(w http.ResponseWriter, r *http.Request) {
	disputeID, err := strconv.ParseInt(mux.Vars(r)["dispute_id"], 10, 64)
	if err != nil {
		config.ErrorStatus("failed to parse dispute id", http.StatusBadRequest, w, err)
		return
	}
	messageID, err := strconv.ParseInt(mux.Vars(r)["message_id"], 10, 64)
	if err != nil {
		config.ErrorStatus("failed to parse message id", http.StatusBadRequest, w, err)
		return
	}

	authUser, ok := api.AuthUserFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing authenticated user", http.StatusUnauthorized, w, nil)
		return
	}

	if a.Store == nil {
		config.ErrorStatus("attachment storage not configured", http.StatusServiceUnavailable, w, nil)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	msg, err := a.MDB.FindOne(ctx, bson.M{"disputeId": disputeID, "id": messageID})
	if err != nil {
		config.ErrorStatus("failed to get message by ID", http.StatusNotFound, w, err)
		return
	}
	if msg.AuthorID != authUser.AccountID {
		config.ErrorStatus("only the author may attach files", http.StatusForbidden, w, nil)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		config.ErrorStatus("failed to parse multipart form", http.StatusBadRequest, w, err)
		return
	}
	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		config.ErrorStatus("no files in request", http.StatusBadRequest, w, nil)
		return
	}

	uploaded := make([]models.Attachment, 0, len(parts))
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			config.ErrorStatus("failed to open uploaded file", http.StatusBadRequest, w, err)
			return
		}

		id := uuid.New().String()
		key := fmt.Sprintf("disputes/%d/%d/%s", disputeID, messageID, id)
		storageKey, err := a.Store.Save(ctx, key, f)
		f.Close()
		if err != nil {
			config.ErrorStatus("failed to store attachment", http.StatusBadGateway, w, err)
			return
		}

		size := part.Size
		now := time.Now().UTC()
		uploaded = append(uploaded, models.Attachment{
			ID:         id,
			FileName:   part.Filename,
			FileSize:   &size,
			MimeType:   part.Header.Get("Content-Type"),
			StorageKey: storageKey,
			UploadedAt: &now,
		})
	}

	matched, err := a.MDB.PushAttachments(ctx, disputeID, messageID, uploaded)
	if err != nil {
		config.ErrorStatus("failed to attach files to message", http.StatusInternalServerError, w, err)
		return
	}
	if !matched {
		// message deleted while the upload was in flight
		config.ErrorStatus("message no longer exists", http.StatusNotFound, w, nil)
		return
	}

	a.Hub.Broadcast(disputeID, models.EventFilesAdded, models.FilesAddedEvent{
		MessageID: messageID,
		Files:     uploaded,
	})
	zap.S().Infow("attachments stored",
		"disputeId", disputeID,
		"messageId", messageID,
		"count", len(uploaded))

	b, err := json.Marshal(models.FilesAddedEvent{MessageID: messageID, Files: uploaded})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// DownloadHandler streams a stored attachment back as a file download
func (a Attachment) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	disputeID, err := strconv.ParseInt(mux.Vars(r)["dispute_id"], 10, 64)
	if err != nil {
		config.ErrorStatus("failed to parse dispute id", http.StatusBadRequest, w, err)
		return
	}
	fileID := mux.Vars(r)["file_id"]

	if a.Store == nil {
		config.ErrorStatus("attachment storage not configured", http.StatusServiceUnavailable, w, nil)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	msg, err := a.MDB.FindOne(ctx, bson.M{"disputeId": disputeID, "attachments.id": fileID})
	if err != nil {
		config.ErrorStatus("failed to get attachment by ID", http.StatusNotFound, w, err)
		return
	}

	var att *models.Attachment
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == fileID {
			att = &msg.Attachments[i]
			break
		}
	}
	if att == nil {
		config.ErrorStatus("attachment not found on message", http.StatusNotFound, w, nil)
		return
	}

	body, err := a.Store.Open(ctx, att.StorageKey)
	if err != nil {
		config.ErrorStatus("failed to open attachment", http.StatusBadGateway, w, err)
		return
	}
	defer body.Close()

	if att.MimeType != "" {
		w.Header().Set("Content-Type", att.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, att.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		zap.S().Errorw("failed to stream attachment", "fileId", fileID, "error", err)
	}
}
