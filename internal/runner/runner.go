// Package runner drives a named action over an ordered list of domains, one
// at a time, reporting coarse progress to the job ledger and fine progress to
// a local snapshot.
package runner

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
)

// Action performs the work for one item. Any returned error marks the item failed.
type Action[A, R any] func(ctx context.Context, item string, args A) (R, error)

type Config[A, R any] struct {
	// Operation prefixes generated job ids: "<operation>-<timestamp>".
	Operation string
	// JobName is the label shown in the jobs panel.
	JobName string
	// Verb and Noun shape the messages, e.g. "Syncing" and "domains".
	Verb string
	Noun string
	// Describe renders an item for progress messages. Defaults to the item itself.
	Describe func(item string) string
	Action   Action[A, R]
	// OnItemSuccess runs after each successful item, typically to mark cached
	// status for that item stale. It is never called for failed items.
	OnItemSuccess func(ctx context.Context, item string, result R)
}

// Outcome is what a finished run looked like. Trigger never fails; per-item
// errors are only reported here and in the ledger message.
type Outcome struct {
	JobID    string
	Started  bool
	Aborted  bool
	Status   domain.Status
	Progress domain.BulkRunProgress
	Errors   map[string]error
}

// Err combines the per-item errors in the order the items failed.
func (o Outcome) Err() error {
	var err error
	for _, item := range o.Progress.Failed {
		if e, ok := o.Errors[item]; ok {
			err = multierr.Append(err, fmt.Errorf("%s: %w", item, e))
		}
	}
	return err
}

type Runner[A, R any] struct {
	cfg    Config[A, R]
	ledger ledger.Writer
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	progress *domain.BulkRunProgress
	aborted  atomic.Bool
}

func New[A, R any](cfg Config[A, R], w ledger.Writer, log *zap.Logger) *Runner[A, R] {
	if cfg.Describe == nil {
		cfg.Describe = func(item string) string { return item }
	}
	if cfg.Noun == "" {
		cfg.Noun = "domains"
	}
	if cfg.JobName == "" {
		cfg.JobName = cfg.Operation
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner[A, R]{
		cfg:    cfg,
		ledger: w,
		log:    log.With(zap.String("operation", cfg.Operation)),
		now:    time.Now,
	}
}

// Progress returns a copy of the current snapshot, or nil before the first run.
func (r *Runner[A, R]) Progress() *domain.BulkRunProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return nil
	}
	p := r.progress.Clone()
	return &p
}

func (r *Runner[A, R]) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Abort asks the current run to stop before its next item. The item in flight
// is allowed to finish. Without a run in progress it does nothing.
func (r *Runner[A, R]) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.aborted.Store(true)
	}
}

// Trigger runs items in order and returns once the run finished or aborted.
// While another run of this runner is in progress the call is ignored and the
// returned Outcome has Started false.
func (r *Runner[A, R]) Trigger(ctx context.Context, items []string, args A) Outcome {
	jobID, ok := r.begin(ctx, items)
	if !ok {
		return Outcome{}
	}
	return r.loop(ctx, jobID, items, args)
}

// Go is Trigger on a background goroutine. It returns nil when a run is
// already in progress; otherwise the channel yields the Outcome once.
func (r *Runner[A, R]) Go(ctx context.Context, items []string, args A) <-chan Outcome {
	jobID, ok := r.begin(ctx, items)
	if !ok {
		return nil
	}
	done := make(chan Outcome, 1)
	go func() {
		done <- r.loop(ctx, jobID, items, args)
	}()
	return done
}

func (r *Runner[A, R]) begin(ctx context.Context, items []string) (string, bool) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Debug("trigger ignored, run in progress")
		return "", false
	}
	r.running = true
	r.aborted.Store(false)
	r.progress = &domain.BulkRunProgress{
		Total:     len(items),
		Completed: []string{},
		Failed:    []string{},
		IsRunning: true,
	}
	r.mu.Unlock()

	jobID := r.newJobID()
	r.ledger.AddJob(context.WithoutCancel(ctx), domain.BackgroundJob{
		ID:       jobID,
		Name:     r.cfg.JobName,
		Status:   domain.Running,
		Progress: 0,
	})
	r.log.Info("bulk run started", zap.String("job_id", jobID), zap.Int("total", len(items)))
	return jobID, true
}

func (r *Runner[A, R]) loop(ctx context.Context, jobID string, items []string, args A) Outcome {
	lctx := context.WithoutCancel(ctx)
	total := len(items)
	completed := make([]string, 0, total)
	failed := make([]string, 0)
	errs := make(map[string]error)

	for i, item := range items {
		if r.aborted.Load() || ctx.Err() != nil {
			msg := fmt.Sprintf("Aborted after %d completed, %d failed", len(completed), len(failed))
			r.ledger.UpdateJob(lctx, jobID, domain.JobPatch{}.
				WithStatus(domain.Failed).
				WithProgress(percent(i, total)).
				WithMessage(msg))
			p := r.finish(func(p *domain.BulkRunProgress) {
				p.Completed = completed
				p.Failed = failed
			})
			r.log.Info("bulk run aborted", zap.String("job_id", jobID), zap.Int("completed", len(completed)), zap.Int("failed", len(failed)))
			return Outcome{JobID: jobID, Started: true, Aborted: true, Status: domain.Failed, Progress: p, Errors: errs}
		}

		r.ledger.UpdateJob(lctx, jobID, domain.JobPatch{}.
			WithProgress(percent(i, total)).
			WithMessage(fmt.Sprintf("[%d/%d] %s %s...", i+1, total, r.cfg.Verb, r.cfg.Describe(item))))
		r.update(func(p *domain.BulkRunProgress) {
			p.Current = i + 1
			p.CurrentDomain = item
			p.Completed = append([]string{}, completed...)
			p.Failed = append([]string{}, failed...)
		})

		res, err := r.perform(ctx, item, args)
		if err != nil {
			failed = append(failed, item)
			errs[item] = err
			r.log.Warn("item failed", zap.String("job_id", jobID), zap.String("item", item), zap.Error(err))
		} else {
			completed = append(completed, item)
			if r.cfg.OnItemSuccess != nil {
				r.cfg.OnItemSuccess(ctx, item, res)
			}
		}
		r.update(func(p *domain.BulkRunProgress) {
			p.Completed = append([]string{}, completed...)
			p.Failed = append([]string{}, failed...)
		})
	}

	status := finalStatus(len(failed), total)
	r.ledger.UpdateJob(lctx, jobID, domain.JobPatch{}.
		WithStatus(status).
		WithProgress(100).
		WithMessage(r.finalMessage(completed, failed, total)))
	p := r.finish(func(p *domain.BulkRunProgress) {
		p.Current = total
		p.CurrentDomain = ""
		p.Completed = completed
		p.Failed = failed
	})
	r.log.Info("bulk run finished", zap.String("job_id", jobID), zap.String("status", string(status)),
		zap.Int("completed", len(completed)), zap.Int("failed", len(failed)))
	return Outcome{JobID: jobID, Started: true, Status: status, Progress: p, Errors: errs}
}

// RunOne performs the action for a single item without touching the bulk
// progress snapshot or the re-entrancy guard. The job moves from running to
// its terminal status in exactly one update.
func (r *Runner[A, R]) RunOne(ctx context.Context, item string, args A) Outcome {
	lctx := context.WithoutCancel(ctx)
	jobID := r.newJobID()
	r.ledger.AddJob(lctx, domain.BackgroundJob{
		ID:       jobID,
		Name:     fmt.Sprintf("%s: %s", r.cfg.JobName, r.cfg.Describe(item)),
		Status:   domain.Running,
		Progress: 0,
		Message:  fmt.Sprintf("[1/1] %s %s...", r.cfg.Verb, r.cfg.Describe(item)),
	})

	var completed, failed []string
	errs := make(map[string]error)
	res, err := r.perform(ctx, item, args)
	if err != nil {
		failed = []string{item}
		errs[item] = err
		r.log.Warn("item failed", zap.String("job_id", jobID), zap.String("item", item), zap.Error(err))
	} else {
		completed = []string{item}
		if r.cfg.OnItemSuccess != nil {
			r.cfg.OnItemSuccess(ctx, item, res)
		}
	}

	status := finalStatus(len(failed), 1)
	r.ledger.UpdateJob(lctx, jobID, domain.JobPatch{}.
		WithStatus(status).
		WithProgress(100).
		WithMessage(r.finalMessage(completed, failed, 1)))
	return Outcome{
		JobID:   jobID,
		Started: true,
		Status:  status,
		Progress: domain.BulkRunProgress{
			Current:   1,
			Total:     1,
			Completed: append([]string{}, completed...),
			Failed:    append([]string{}, failed...),
		},
		Errors: errs,
	}
}

// perform calls the action, turning a panic into an item failure.
func (r *Runner[A, R]) perform(ctx context.Context, item string, args A) (res R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return r.cfg.Action(ctx, item, args)
}

func (r *Runner[A, R]) finalMessage(completed, failed []string, total int) string {
	if len(failed) > 0 {
		return fmt.Sprintf("Done: %d synced, %d failed (%s)", len(completed), len(failed), strings.Join(failed, ", "))
	}
	return fmt.Sprintf("Done: %d/%d %s synced", len(completed), total, r.cfg.Noun)
}

func (r *Runner[A, R]) update(fn func(p *domain.BulkRunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.progress)
}

func (r *Runner[A, R]) finish(fn func(p *domain.BulkRunProgress)) domain.BulkRunProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.progress)
	r.progress.IsRunning = false
	r.running = false
	r.aborted.Store(false)
	return r.progress.Clone()
}

func (r *Runner[A, R]) newJobID() string {
	return fmt.Sprintf("%s-%d", r.cfg.Operation, r.now().UnixNano())
}

// finalStatus reports failed only when every item failed. An empty run completes.
func finalStatus(failed, total int) domain.Status {
	if total > 0 && failed == total {
		return domain.Failed
	}
	return domain.Completed
}

func percent(i, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(i) / float64(total) * 100))
}
