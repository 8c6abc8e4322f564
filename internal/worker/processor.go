// Package worker reacts to events published by the API.
package worker

import (
	"context"
	"log"

	"smartattend/internal/gamification"
	"smartattend/internal/metrics"
	"smartattend/internal/queue"
)

// Results reported on the worker_events_total counter.
const (
	ResultOK        = "ok"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
	ResultIgnored   = "ignored"
)

// Invalidator drops cached values.
type Invalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

// Warmer recomputes the ranking after an invalidation.
type Warmer interface {
	Leaderboard(ctx context.Context, studentID string) (gamification.Leaderboard, error)
}

// Processor keeps the cached ranking in step with the ledger.
type Processor struct {
	Cache Invalidator
	// Reports may be nil, which skips rewarming.
	Reports Warmer
}

// Run consumes q until ctx ends.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		result := p.Process(ctx, msg)
		metrics.EventsProcessed.WithLabelValues(msg.Type, result).Inc()
	}
	return nil
}

// Process handles one event and returns its result label.
func (p *Processor) Process(ctx context.Context, msg queue.Message) string {
	switch msg.Type {
	case queue.TypeAttendanceRecorded:
		var evt queue.AttendanceRecorded
		if err := msg.Decode(&evt); err != nil {
			log.Printf("decode %s failed: %v", msg.Type, err)
			return ResultMalformed
		}
		log.Printf("attendance recorded: student %s in session %s via %s", evt.StudentID, evt.SessionID, evt.Method)

		// A new record can move any student's rank.
		if err := p.Cache.Delete(ctx, gamification.RankingCacheKey); err != nil {
			log.Printf("ranking invalidation failed: %v", err)
			return ResultFailed
		}
		if p.Reports != nil {
			if _, err := p.Reports.Leaderboard(ctx, evt.StudentID); err != nil {
				log.Printf("ranking rewarm failed: %v", err)
			}
		}
		return ResultOK

	case queue.TypeSessionCreated, queue.TypeSessionClosed:
		var evt queue.SessionChanged
		if err := msg.Decode(&evt); err != nil {
			log.Printf("decode %s failed: %v", msg.Type, err)
			return ResultMalformed
		}
		log.Printf("%s: session %s of course %s by %s", msg.Type, evt.SessionID, evt.CourseID, evt.IssuerID)
		return ResultOK
	}
	return ResultIgnored
}
