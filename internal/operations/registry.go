// Package operations wires one bulk runner per catalog entry to the backend,
// the job ledger and the status cache.
package operations

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/backend"
	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
	"github.com/SirClappington/valsync/internal/runner"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrAlreadyRunning   = errors.New("operation already running")
)

// StatusCache is the cached query state for per-domain status and the domain list.
type StatusCache interface {
	Get(ctx context.Context, operation, domain string, dest any) (bool, error)
	Put(ctx context.Context, operation, domain string, status any) error
	Invalidate(ctx context.Context, operation, domain string) error
	GetList(ctx context.Context) ([]string, error)
	PutList(ctx context.Context, domains []string) error
	InvalidateList(ctx context.Context) error
}

// DomainSource lists the domains a bulk run may target.
type DomainSource interface {
	ListDomains(ctx context.Context) ([]string, error)
}

// StaticDomains serves a fixed list, for deployments without Postgres.
type StaticDomains []string

func (s StaticDomains) ListDomains(context.Context) ([]string, error) {
	return append([]string{}, s...), nil
}

type bulkRunner = runner.Runner[domain.OperationArgs, json.RawMessage]

// commandArgs is the argument object every backend command receives.
type commandArgs struct {
	Domain     string `json:"domain"`
	Operation  string `json:"operation,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`
	Date       string `json:"date,omitempty"`
}

type Registry struct {
	base    context.Context
	specs   map[string]Spec
	order   []string
	runners map[string]*bulkRunner
	backend backend.Invoker
	cache   StatusCache
	domains DomainSource
	log     *zap.Logger
}

// New builds a runner for every spec. Runs started with Trigger live on base,
// so they outlast the request that started them.
func New(base context.Context, specs []Spec, inv backend.Invoker, w ledger.Writer, cache StatusCache, domains DomainSource, log *zap.Logger) *Registry {
	reg := &Registry{
		base:    base,
		specs:   make(map[string]Spec, len(specs)),
		runners: make(map[string]*bulkRunner, len(specs)),
		backend: inv,
		cache:   cache,
		domains: domains,
		log:     log,
	}
	for _, s := range specs {
		reg.specs[s.Name] = s
		reg.order = append(reg.order, s.Name)
		reg.runners[s.Name] = runner.New(runner.Config[domain.OperationArgs, json.RawMessage]{
			Operation: s.Name,
			JobName:   s.JobName,
			Verb:      s.Verb,
			Noun:      s.Noun,
			Action: func(ctx context.Context, item string, args domain.OperationArgs) (json.RawMessage, error) {
				var out json.RawMessage
				err := inv.Invoke(ctx, s.Command, commandArgs{Domain: item, WindowDays: args.WindowDays, Date: args.Date}, &out)
				return out, err
			},
			OnItemSuccess: func(ctx context.Context, item string, _ json.RawMessage) {
				reg.invalidate(ctx, s, item)
			},
		}, w, log)
	}
	return reg
}

func (reg *Registry) invalidate(ctx context.Context, s Spec, item string) {
	ctx = context.WithoutCancel(ctx)
	if err := reg.cache.Invalidate(ctx, s.Name, item); err != nil {
		reg.log.Warn("status invalidation failed", zap.String("operation", s.Name), zap.String("domain", item), zap.Error(err))
	}
	if s.MutatesConfig {
		if err := reg.cache.InvalidateList(ctx); err != nil {
			reg.log.Warn("domain list invalidation failed", zap.String("operation", s.Name), zap.Error(err))
		}
	}
}

func (reg *Registry) runner(op string) (*bulkRunner, error) {
	r, ok := reg.runners[op]
	if !ok {
		return nil, ErrUnknownOperation
	}
	return r, nil
}

// Names returns the operation names in catalog order.
func (reg *Registry) Names() []string {
	return append([]string{}, reg.order...)
}

func (reg *Registry) Spec(op string) (Spec, error) {
	s, ok := reg.specs[op]
	if !ok {
		return Spec{}, ErrUnknownOperation
	}
	return s, nil
}

// Trigger starts a bulk run in the background. The returned channel yields
// the outcome once the run ends.
func (reg *Registry) Trigger(op string, domains []string, args domain.OperationArgs) (<-chan runner.Outcome, error) {
	r, err := reg.runner(op)
	if err != nil {
		return nil, err
	}
	done := r.Go(reg.base, domains, args)
	if done == nil {
		return nil, ErrAlreadyRunning
	}
	return done, nil
}

// Run executes a bulk run and waits for it.
func (reg *Registry) Run(ctx context.Context, op string, domains []string, args domain.OperationArgs) (runner.Outcome, error) {
	r, err := reg.runner(op)
	if err != nil {
		return runner.Outcome{}, err
	}
	out := r.Trigger(ctx, domains, args)
	if !out.Started {
		return out, ErrAlreadyRunning
	}
	return out, nil
}

// RunOne runs op for a single domain. It may overlap a bulk run of the same operation.
func (reg *Registry) RunOne(ctx context.Context, op, domainName string, args domain.OperationArgs) (runner.Outcome, error) {
	r, err := reg.runner(op)
	if err != nil {
		return runner.Outcome{}, err
	}
	return r.RunOne(ctx, domainName, args), nil
}

func (reg *Registry) Abort(op string) error {
	r, err := reg.runner(op)
	if err != nil {
		return err
	}
	r.Abort()
	return nil
}

func (reg *Registry) Progress(op string) (*domain.BulkRunProgress, error) {
	r, err := reg.runner(op)
	if err != nil {
		return nil, err
	}
	return r.Progress(), nil
}

// AnyRunning reports whether any operation has a bulk run in flight. Callers
// use it to keep different operations from running at the same time.
func (reg *Registry) AnyRunning() bool {
	for _, r := range reg.runners {
		if r.IsRunning() {
			return true
		}
	}
	return false
}

// Status returns the last known status of op for a domain, asking the
// backend only when the cache has nothing.
func (reg *Registry) Status(ctx context.Context, op, domainName string) (json.RawMessage, error) {
	if _, err := reg.Spec(op); err != nil {
		return nil, err
	}
	var cached json.RawMessage
	ok, err := reg.cache.Get(ctx, op, domainName, &cached)
	if err != nil {
		reg.log.Warn("status cache read failed", zap.String("operation", op), zap.String("domain", domainName), zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	var fresh json.RawMessage
	if err := reg.backend.Invoke(ctx, statusCommand, commandArgs{Domain: domainName, Operation: op}, &fresh); err != nil {
		return nil, err
	}
	if err := reg.cache.Put(ctx, op, domainName, fresh); err != nil {
		reg.log.Warn("status cache write failed", zap.String("operation", op), zap.String("domain", domainName), zap.Error(err))
	}
	return fresh, nil
}

// Domains returns the domain list, served from cache when possible.
func (reg *Registry) Domains(ctx context.Context) ([]string, error) {
	list, err := reg.cache.GetList(ctx)
	if err != nil {
		reg.log.Warn("domain list cache read failed", zap.Error(err))
	}
	if list != nil {
		return list, nil
	}
	list, err = reg.domains.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	if err := reg.cache.PutList(ctx, list); err != nil {
		reg.log.Warn("domain list cache write failed", zap.Error(err))
	}
	return list, nil
}
