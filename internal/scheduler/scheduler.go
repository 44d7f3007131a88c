package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Job types carried on the queue.
const (
	JobRefresh = "refresh"
	JobSweep   = "sweep"
)

// Jobs is the work the scheduler drives. *attendance.Service implements it.
type Jobs interface {
	Refresh(ctx context.Context) (attendance.DayRecord, error)
	Sweep(ctx context.Context) (attendance.SweepResult, error)
}

// Scheduler enqueues periodic rollover and retention jobs and runs them.
// Ticking and working are separate so that one process can tick while
// another consumes.
type Scheduler struct {
	q            queue.Queue
	jobs         Jobs
	refreshEvery time.Duration
	sweepEvery   time.Duration
}

// New creates a scheduler. Non-positive intervals disable that ticker.
func New(q queue.Queue, jobs Jobs, refreshEvery, sweepEvery time.Duration) *Scheduler {
	return &Scheduler{q: q, jobs: jobs, refreshEvery: refreshEvery, sweepEvery: sweepEvery}
}

// Enqueue publishes a single job.
func (s *Scheduler) Enqueue(ctx context.Context, job string) error {
	switch job {
	case JobRefresh, JobSweep:
	default:
		return fmt.Errorf("unknown job %q", job)
	}
	return s.q.Publish(ctx, queue.Message{Type: job})
}

// Tick publishes jobs on fixed intervals until ctx is done. An initial sweep
// is published immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	s.publish(ctx, JobSweep)

	refresh, stopRefresh := ticker(s.refreshEvery)
	defer stopRefresh()
	sweep, stopSweep := ticker(s.sweepEvery)
	defer stopSweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh:
			s.publish(ctx, JobRefresh)
		case <-sweep:
			s.publish(ctx, JobSweep)
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, job string) {
	if err := s.Enqueue(ctx, job); err != nil && ctx.Err() == nil {
		log.Printf("scheduler: enqueue %s failed: %v", job, err)
	}
}

// Work consumes the queue and runs jobs until ctx is done.
func (s *Scheduler) Work(ctx context.Context) error {
	msgs, err := s.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range msgs {
		_ = s.Run(ctx, msg.Type)
	}
	return nil
}

// Run executes one job. Failures are logged and counted, never fatal; the
// next tick retries independently.
func (s *Scheduler) Run(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobRefresh:
		var rec attendance.DayRecord
		if rec, err = s.jobs.Refresh(ctx); err == nil {
			log.Printf("attendance refreshed for %s: %d students reset", rec.Date, rec.Summary.Total)
		}
	case JobSweep:
		var res attendance.SweepResult
		if res, err = s.jobs.Sweep(ctx); err == nil && (res.LogsDeleted > 0 || res.DaysDeleted > 0) {
			log.Printf("retention sweep removed %d log entries and %d day records", res.LogsDeleted, res.DaysDeleted)
		}
	default:
		log.Printf("scheduler: ignoring unknown job %q", job)
		return nil
	}
	if err != nil {
		log.Printf("scheduler: %s failed: %v", job, err)
		metrics.JobRuns.WithLabelValues(job, "error").Inc()
		return err
	}
	metrics.JobRuns.WithLabelValues(job, "ok").Inc()
	return nil
}

// ticker returns a nil channel, which never fires, for a disabled interval.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
