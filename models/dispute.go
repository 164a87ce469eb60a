package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Dispute statuses
const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusCancelled   = "cancelled"
)

// Role is a participant's function within a dispute
type Role string

// Dispute participant roles
const (
	RolePlaintiff Role = "plaintiff"
	RoleDefendant Role = "defendant"
	RoleWitness   Role = "witness"
	RoleJudge     Role = "judge"
	RoleAdmin     Role = "admin"
	RoleCommunity Role = "community"
)

// Writable reports whether the role may author or delete chat messages. Every
// role may read; only the four courtroom roles may write.
func (r Role) Writable() bool {
	switch r {
	case RolePlaintiff, RoleDefendant, RoleWitness, RoleJudge:
		return true
	}
	return false
}

// Dispute holds the structure for the disputes collection in mongo
type Dispute struct {
	ObjectID     primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ID           int64              `json:"id" bson:"id"`
	Title        string             `json:"title" bson:"title"`
	Status       string             `json:"status" bson:"status"`
	Participants []Participant      `json:"participants" bson:"participants"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	ResolvedAt   *time.Time         `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
}

// Participant binds an account to its role in a dispute
type Participant struct {
	AccountID string `json:"accountId" bson:"accountId"`
	Username  string `json:"username" bson:"username"`
	Email     string `json:"email" bson:"email"`
	Role      Role   `json:"role" bson:"role"`
}

// RoleOf returns the role of the given account in the dispute, or an empty role
// if the account is not a participant.
func (d *Dispute) RoleOf(accountID string) (Role, bool) {
	for _, p := range d.Participants {
		if p.AccountID == accountID {
			return p.Role, true
		}
	}
	return "", false
}
