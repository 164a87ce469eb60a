package databases

// go generate: mockery --name NotificationDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const notificationName = "notifications"

// NotificationDatabase records when an offline participant was last emailed
// about activity in a dispute, so the mailer can throttle.
type NotificationDatabase interface {
	LastNotified(ctx context.Context, accountID string, disputeID int64) (time.Time, error)
	MarkNotified(ctx context.Context, accountID string, disputeID int64, at time.Time) error
}

type notificationDatabase struct {
	db DatabaseHelper
}

type notificationDoc struct {
	AccountID  string    `bson:"accountId"`
	DisputeID  int64     `bson:"disputeId"`
	NotifiedAt time.Time `bson:"notifiedAt"`
}

// NewNotificationDatabase initializes a new instance of notification database with the provided db connection
func NewNotificationDatabase(db DatabaseHelper) NotificationDatabase {
	return &notificationDatabase{
		db: db,
	}
}

// LastNotified returns the zero time if the participant has never been notified
// for the dispute.
func (n *notificationDatabase) LastNotified(ctx context.Context, accountID string, disputeID int64) (time.Time, error) {
	doc := notificationDoc{}
	err := n.db.Collection(notificationName).FindOne(ctx,
		bson.M{"accountId": accountID, "disputeId": disputeID},
	).Decode(&doc)
	if err != nil {
		return time.Time{}, nil
	}
	return doc.NotifiedAt, nil
}

func (n *notificationDatabase) MarkNotified(ctx context.Context, accountID string, disputeID int64, at time.Time) error {
	opts := options.Update().SetUpsert(true)
	_, err := n.db.Collection(notificationName).UpdateOne(ctx,
		bson.M{"accountId": accountID, "disputeId": disputeID},
		bson.M{"$set": bson.M{"notifiedAt": at}},
		opts,
	)
	return err
}
