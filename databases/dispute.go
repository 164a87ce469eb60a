package databases

// go generate: mockery --name DisputeDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veridict/dispute-chat-api/models"
)

const disputeName = "disputes"

// DisputeDatabase contains the methods to use with the dispute database
type DisputeDatabase interface {
	FindByID(ctx context.Context, disputeID int64) (*models.Dispute, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Dispute, error)
	FindResolvedBefore(ctx context.Context, cutoff time.Time) ([]models.Dispute, error)
}

type disputeDatabase struct {
	db DatabaseHelper
}

// NewDisputeDatabase initializes a new instance of dispute database with the provided db connection
func NewDisputeDatabase(db DatabaseHelper) DisputeDatabase {
	return &disputeDatabase{
		db: db,
	}
}

func (d *disputeDatabase) FindByID(ctx context.Context, disputeID int64) (*models.Dispute, error) {
	dispute := &models.Dispute{}
	err := d.db.Collection(disputeName).FindOne(ctx, bson.M{"id": disputeID}).Decode(&dispute)
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

func (d *disputeDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Dispute, error) {
	var disputes []models.Dispute
	curr, err := d.db.Collection(disputeName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer curr.Close(ctx)
	err = curr.All(ctx, &disputes)
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

// FindResolvedBefore returns disputes that reached a terminal status before the cutoff
func (d *disputeDatabase) FindResolvedBefore(ctx context.Context, cutoff time.Time) ([]models.Dispute, error) {
	return d.Find(ctx, bson.M{
		"status":     bson.M{"$in": []string{models.DisputeStatusResolved, models.DisputeStatusCancelled}},
		"resolvedAt": bson.M{"$lt": cutoff},
	})
}
