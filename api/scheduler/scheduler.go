// Package scheduler runs periodic background jobs for the chat service.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/databases"
)

// Scheduler handles periodic background jobs for chat retention
type Scheduler struct {
	cron          *cron.Cron
	MDB           databases.MessageDatabase
	DDB           databases.DisputeDatabase
	RetentionDays int
}

// NewScheduler creates a new scheduler instance
func NewScheduler(mDB databases.MessageDatabase, dDB databases.DisputeDatabase, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithLocation(time.UTC)),
		MDB:           mDB,
		DDB:           dDB,
		RetentionDays: retentionDays,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Purge chat of long-resolved disputes daily at 3 AM UTC
	_, err := s.cron.AddFunc("0 3 * * *", s.purgeResolvedDisputeChat)
	if err != nil {
		zap.S().Errorw("failed to register retention job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("chat retention scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("chat retention scheduler stopped")
}

// purgeResolvedDisputeChat removes the message history of disputes that
// reached a terminal status more than RetentionDays ago
func (s *Scheduler) purgeResolvedDisputeChat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)
	disputes, err := s.DDB.FindResolvedBefore(ctx, cutoff)
	if err != nil {
		zap.S().Errorw("retention: failed to list resolved disputes", "error", err)
		return
	}
	if len(disputes) == 0 {
		return
	}

	ids := make([]int64, 0, len(disputes))
	for _, d := range disputes {
		ids = append(ids, d.ID)
	}

	removed, err := s.MDB.DeleteByDisputes(ctx, ids)
	if err != nil {
		zap.S().Errorw("retention: failed to purge messages", "error", err)
		return
	}
	zap.S().Infow("retention: purged dispute chat",
		"disputes", len(ids),
		"messagesRemoved", removed,
		"cutoff", cutoff)
}
