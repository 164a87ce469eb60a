package databases

// go generate: mockery --name CounterDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const counterName = "counters"

// CounterDatabase hands out monotonically increasing per-dispute message ids
type CounterDatabase interface {
	NextMessageID(ctx context.Context, disputeID int64) (int64, error)
}

type counterDatabase struct {
	db DatabaseHelper
}

type counterDoc struct {
	DisputeID int64 `bson:"disputeId"`
	Seq       int64 `bson:"seq"`
}

// NewCounterDatabase initializes a new instance of counter database with the provided db connection
func NewCounterDatabase(db DatabaseHelper) CounterDatabase {
	return &counterDatabase{
		db: db,
	}
}

// NextMessageID atomically increments and returns the dispute's message id
// sequence, creating the counter on first use. Ids start at 1.
func (c *counterDatabase) NextMessageID(ctx context.Context, disputeID int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	doc := counterDoc{}
	err := c.db.Collection(counterName).FindOneAndUpdate(ctx,
		bson.M{"disputeId": disputeID},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}
