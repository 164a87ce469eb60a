package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.uber.org/zap"
)

// LocalFile is a file the user selected for attachment, held locally until
// the message it belongs to has been durably created.
type LocalFile struct {
	Name     string
	MimeType string
	Content  []byte
}

// Uploader transmits pending local files over the REST side-channel once the
// message id is known. Uploads are at-most-once: retrying after a partial
// failure would duplicate attachments server-side, so callers report the
// failure instead of retrying.
type Uploader struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewUploader creates an uploader against the service base URL
// (e.g. "https://host")
func NewUploader(baseURL string) *Uploader {
	return &Uploader{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// Upload sends the files as one multipart request bound to the message.
// It returns true only on a 2xx response; the caller owns user-facing error
// reporting.
func (u *Uploader) Upload(ctx context.Context, token string, disputeID, messageID int64, files []LocalFile) bool {
	if len(files) == 0 {
		return true
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		if f.MimeType != "" {
			hdr.Set("Content-Type", f.MimeType)
		}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			zap.S().Errorw("failed to build upload part", "file", f.Name, "error", err)
			return false
		}
		if _, err := part.Write(f.Content); err != nil {
			zap.S().Errorw("failed to write upload part", "file", f.Name, "error", err)
			return false
		}
	}
	if err := mw.Close(); err != nil {
		zap.S().Errorw("failed to finalize upload body", "error", err)
		return false
	}

	url := fmt.Sprintf("%s/api/v1/dispute/%d/message/%d/attachments", u.BaseURL, disputeID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		zap.S().Errorw("failed to build upload request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		zap.S().Errorw("attachment upload failed", "messageId", messageID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.S().Errorw("attachment upload rejected", "messageId", messageID, "status", resp.StatusCode)
		return false
	}
	return true
}
