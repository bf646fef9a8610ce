package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/operations"
)

type runQueue interface {
	Enqueue(ctx context.Context, req domain.RunRequest) error
	Dequeue(ctx context.Context, block time.Duration) (domain.RunRequest, bool, error)
	MoveDue(ctx context.Context, now int64, batch int64) (int, error)
}

type leaderLock interface {
	AcquireLeader(ctx context.Context) (*pgxpool.Conn, bool, error)
}

type scheduler struct {
	reg    *operations.Registry
	queue  runQueue
	leader leaderLock
	log    *zap.Logger

	// held while this process is leader
	conn *pgxpool.Conn
}

func (s *scheduler) loop(ctx context.Context, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	defer s.stepDown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.tick(ctx)
		}
	}
}

// tick promotes due runs and executes every ready run request in order.
func (s *scheduler) tick(ctx context.Context) {
	if !s.isLeader(ctx) {
		return
	}
	if n, err := s.queue.MoveDue(ctx, time.Now().UTC().Unix(), 200); err != nil {
		s.log.Warn("move due runs", zap.Error(err))
	} else if n > 0 {
		s.log.Info("promoted delayed runs", zap.Int("count", n))
	}

	for ctx.Err() == nil {
		req, ok, err := s.queue.Dequeue(ctx, time.Second)
		if err != nil {
			s.log.Warn("dequeue run", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		s.execute(ctx, req)
	}
}

func (s *scheduler) execute(ctx context.Context, req domain.RunRequest) {
	log := s.log.With(zap.String("request_id", req.ID), zap.String("operation", req.Operation))
	out, err := s.reg.Run(ctx, req.Operation, req.Domains, req.Args)
	if err != nil {
		log.Warn("scheduled run rejected", zap.Error(err))
		return
	}
	log.Info("scheduled run finished",
		zap.String("job_id", out.JobID),
		zap.String("status", string(out.Status)),
		zap.Bool("aborted", out.Aborted),
		zap.Strings("failed", out.Progress.Failed),
		zap.NamedError("errors", out.Err()))
}

func (s *scheduler) isLeader(ctx context.Context) bool {
	if s.leader == nil || s.conn != nil {
		return true
	}
	conn, ok, err := s.leader.AcquireLeader(ctx)
	if err != nil {
		s.log.Warn("leader election", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	s.log.Info("became scheduler leader")
	s.conn = conn
	return true
}

func (s *scheduler) stepDown() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

// addSchedule enqueues op over the full domain list on every cron firing.
func (s *scheduler) addSchedule(ctx context.Context, c *cron.Cron, op, spec string) error {
	if _, err := s.reg.Spec(op); err != nil {
		return err
	}
	_, err := c.AddFunc(spec, func() { s.enqueueAll(ctx, op) })
	return err
}

func (s *scheduler) enqueueAll(ctx context.Context, op string) {
	domains, err := s.reg.Domains(ctx)
	if err != nil {
		s.log.Warn("scheduled run: list domains", zap.String("operation", op), zap.Error(err))
		return
	}
	if len(domains) == 0 {
		return
	}
	now := time.Now().UTC()
	req := domain.RunRequest{ID: uuid.NewString(), Operation: op, Domains: domains, RunAt: now, CreatedAt: now}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.log.Warn("scheduled run: enqueue", zap.String("operation", op), zap.Error(err))
	}
}
