package databases

// go generate: mockery --name MessageDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veridict/dispute-chat-api/models"
)

const messageName = "messages"

// MessageDatabase contains the methods to use with the message database
type MessageDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Message, error)
	FindByDispute(ctx context.Context, disputeID int64) ([]models.Message, error)
	InsertOne(ctx context.Context, message models.Message) error
	DeleteOne(ctx context.Context, disputeID, messageID int64) (bool, error)
	DeleteByDisputes(ctx context.Context, disputeIDs []int64) (int64, error)
	PushAttachments(ctx context.Context, disputeID, messageID int64, files []models.Attachment) (bool, error)
}

type messageDatabase struct {
	db DatabaseHelper
}

// NewMessageDatabase initializes a new instance of message database with the provided db connection
func NewMessageDatabase(db DatabaseHelper) MessageDatabase {
	return &messageDatabase{
		db: db,
	}
}

func (m *messageDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Message, error) {
	msg := &models.Message{}
	err := m.db.Collection(messageName).FindOne(ctx, filter, opts...).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindByDispute returns the full history of a dispute ordered by message id ascending
func (m *messageDatabase) FindByDispute(ctx context.Context, disputeID int64) ([]models.Message, error) {
	var messages []models.Message
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	curr, err := m.db.Collection(messageName).Find(ctx, bson.M{"disputeId": disputeID}, opts)
	if err != nil {
		return nil, err
	}
	defer curr.Close(ctx)
	err = curr.All(ctx, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (m *messageDatabase) InsertOne(ctx context.Context, message models.Message) error {
	_, err := m.db.Collection(messageName).InsertOne(ctx, message)
	return err
}

func (m *messageDatabase) DeleteOne(ctx context.Context, disputeID, messageID int64) (bool, error) {
	n, err := m.db.Collection(messageName).DeleteOne(ctx, bson.M{"disputeId": disputeID, "id": messageID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByDisputes removes every message belonging to the given disputes,
// used by the retention scheduler
func (m *messageDatabase) DeleteByDisputes(ctx context.Context, disputeIDs []int64) (int64, error) {
	return m.db.Collection(messageName).DeleteMany(ctx, bson.M{"disputeId": bson.M{"$in": disputeIDs}})
}

// PushAttachments appends file metadata to the message's attachments array,
// preserving any attachments already present. Returns false if the message no
// longer exists.
func (m *messageDatabase) PushAttachments(ctx context.Context, disputeID, messageID int64, files []models.Attachment) (bool, error) {
	res, err := m.db.Collection(messageName).UpdateOne(ctx,
		bson.M{"disputeId": disputeID, "id": messageID},
		bson.M{"$push": bson.M{"attachments": bson.M{"$each": files}}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}
