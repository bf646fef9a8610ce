package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
)

// Store is the Postgres source of truth for the job ledger and the domain list.
type Store struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func New(db *pgxpool.Pool, log *zap.Logger) *Store { return &Store{db, log} }

// AddJob upserts job with started_at = now(). A duplicate id replaces the row.
func (s *Store) AddJob(ctx context.Context, j domain.BackgroundJob) {
	_, err := s.db.Exec(ctx, `insert into background_jobs(id, name, status, progress, message, started_at, completed_at)
values ($1,$2,$3,$4,$5,now(), case when $3 in ('completed','failed') then now() end)
on conflict (id) do update set
  name = excluded.name, status = excluded.status, progress = excluded.progress,
  message = excluded.message, started_at = excluded.started_at, completed_at = excluded.completed_at`,
		j.ID, j.Name, string(j.Status), j.Progress, j.Message,
	)
	if err != nil {
		s.log.Error("ledger add failed", zap.String("job_id", j.ID), zap.Error(err))
	}
}

// UpdateJob merges the non-nil fields of p. completed_at is only ever set once
// and a terminal status is never replaced.
func (s *Store) UpdateJob(ctx context.Context, id string, p domain.JobPatch) {
	var status *string
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}
	_, err := s.db.Exec(ctx, `update background_jobs set
  status = case when status in ('completed','failed') then status else coalesce($2, status) end,
  progress = coalesce($3, progress),
  message = coalesce($4, message),
  completed_at = case
    when completed_at is null and coalesce($2, status) in ('completed','failed') then now()
    else completed_at end
where id = $1`, id, status, p.Progress, p.Message)
	if err != nil {
		s.log.Error("ledger update failed", zap.String("job_id", id), zap.Error(err))
	}
}

const jobColumns = `id, name, status, progress, message, started_at, completed_at`

func scanJob(row pgx.Row) (domain.BackgroundJob, error) {
	var j domain.BackgroundJob
	var status string
	var completed *time.Time
	if err := row.Scan(&j.ID, &j.Name, &status, &j.Progress, &j.Message, &j.StartedAt, &completed); err != nil {
		return j, err
	}
	j.Status = domain.Status(status)
	j.CompletedAt = completed
	return j, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.BackgroundJob, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `select `+jobColumns+` from background_jobs where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return j, ledger.ErrJobNotFound
	}
	return j, errors.Wrap(err, "get job")
}

func (s *Store) List(ctx context.Context) ([]domain.BackgroundJob, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from background_jobs order by started_at desc, id desc`)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	out := []domain.BackgroundJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "list jobs")
}

func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `delete from background_jobs where id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "remove job")
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrJobNotFound
	}
	return nil
}

func (s *Store) ClearTerminal(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `delete from background_jobs where status in ('completed','failed')`)
	if err != nil {
		return 0, errors.Wrap(err, "clear jobs")
	}
	return int(tag.RowsAffected()), nil
}

// ListDomains returns enabled domain names in name order.
func (s *Store) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select name from domains where enabled order by name`)
	if err != nil {
		return nil, errors.Wrap(err, "list domains")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan domain")
		}
		out = append(out, name)
	}
	return out, errors.Wrap(rows.Err(), "list domains")
}

// AcquireLeader takes the scheduler advisory lock on a dedicated session.
// The lock lives as long as the returned connection; release it to step down.
func (s *Store) AcquireLeader(ctx context.Context) (*pgxpool.Conn, bool, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "acquire conn")
	}
	var ok bool
	if err := conn.QueryRow(ctx, `select pg_try_advisory_lock(42)`).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, errors.Wrap(err, "advisory lock")
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}

var _ ledger.Ledger = (*Store)(nil)
