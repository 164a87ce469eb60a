package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message holds the structure for the messages collection in mongo. ID is the
// server-assigned message id, monotonically increasing within a dispute; it is
// never reused and never reassigned.
type Message struct {
	ObjectID       primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ID             int64              `json:"id" bson:"id"`
	DisputeID      int64              `json:"disputeId" bson:"disputeId"`
	AuthorID       string             `json:"authorId" bson:"authorId"`
	AuthorUsername string             `json:"authorUsername" bson:"authorUsername"`
	AuthorAvatarID string             `json:"authorAvatarId,omitempty" bson:"authorAvatarId,omitempty"`
	AuthorRole     Role               `json:"authorRole,omitempty" bson:"authorRole,omitempty"`
	Body           string             `json:"body" bson:"body"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	Attachments    []Attachment       `json:"attachments,omitempty" bson:"attachments,omitempty"`
}

// Attachment holds file metadata attached to a message. Attachments are owned by
// their parent message and appended in upload-completion order.
type Attachment struct {
	ID         string     `json:"id" bson:"id"`
	FileName   string     `json:"fileName" bson:"fileName"`
	FileSize   *int64     `json:"fileSize,omitempty" bson:"fileSize,omitempty"`
	MimeType   string     `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
	StorageKey string     `json:"-" bson:"storageKey"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty" bson:"uploadedAt,omitempty"`
}
