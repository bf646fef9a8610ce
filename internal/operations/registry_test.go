package operations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
	"github.com/SirClappington/valsync/internal/statuscache"
)

type call struct {
	Command string
	Args    commandArgs
}

// fakeBackend answers every command with {"ok":true} unless the domain is in fail.
type fakeBackend struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
	gate  chan struct{}
}

func (b *fakeBackend) Invoke(ctx context.Context, command string, args any, out any) error {
	a := args.(commandArgs)
	b.mu.Lock()
	b.calls = append(b.calls, call{command, a})
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.fail[a.Domain] {
		return errors.New("backend rejected " + a.Domain)
	}
	if out != nil {
		return json.Unmarshal([]byte(`{"ok":true}`), out)
	}
	return nil
}

func (b *fakeBackend) commands() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call{}, b.calls...)
}

type fixture struct {
	reg     *Registry
	backend *fakeBackend
	ledger  *ledger.Memory
	cache   *statuscache.Cache
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T, fail ...string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	be := &fakeBackend{fail: map[string]bool{}}
	for _, f := range fail {
		be.fail[f] = true
	}
	l := ledger.NewMemory()
	cache := statuscache.New(rdb, time.Minute)
	reg := New(context.Background(), Catalog, be, l, cache, StaticDomains{"acme", "globex"}, zap.NewNop())
	return &fixture{reg: reg, backend: be, ledger: l, cache: cache, mr: mr}
}

func TestRun_InvokesCommandPerDomainInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.reg.Run(ctx, "query-health", []string{"acme", "globex"}, domain.OperationArgs{WindowDays: 7})
	require.NoError(t, err)

	assert.Equal(t, []call{
		{"val_run_query_health", commandArgs{Domain: "acme", WindowDays: 7}},
		{"val_run_query_health", commandArgs{Domain: "globex", WindowDays: 7}},
	}, f.backend.commands())
	assert.Equal(t, []string{"acme", "globex"}, out.Progress.Completed)

	job, err := f.ledger.Get(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, "Query health check", job.Name)
	assert.Equal(t, "Done: 2/2 domains synced", job.Message)
}

func TestRun_InvalidatesOnlySucceededDomains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "globex")
	require.NoError(t, f.cache.Put(ctx, "schema-sync", "acme", map[string]int{"v": 1}))
	require.NoError(t, f.cache.Put(ctx, "schema-sync", "globex", map[string]int{"v": 1}))
	require.NoError(t, f.cache.PutList(ctx, []string{"acme", "globex"}))

	out, err := f.reg.Run(ctx, "schema-sync", []string{"acme", "globex"}, domain.OperationArgs{})
	require.NoError(t, err)

	assert.Equal(t, []string{"globex"}, out.Progress.Failed)
	assert.False(t, f.mr.Exists(statuscache.Key("schema-sync", "acme")))
	assert.True(t, f.mr.Exists(statuscache.Key("schema-sync", "globex")), "failed sync keeps known-good state")
	assert.True(t, f.mr.Exists("domains:list"), "schema sync does not touch the domain list")
}

func TestRun_ConfigMutatingInvalidatesList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.PutList(ctx, []string{"stale"}))

	_, err := f.reg.Run(ctx, "config-sync", []string{"acme"}, domain.OperationArgs{})
	require.NoError(t, err)

	assert.False(t, f.mr.Exists("domains:list"))
	list, err := f.reg.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, list)
}

func TestTrigger_BusyAndAnyRunning(t *testing.T) {
	f := newFixture(t)
	f.backend.gate = make(chan struct{})

	done, err := f.reg.Trigger("s3-publish", []string{"acme"}, domain.OperationArgs{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.backend.commands()) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.reg.AnyRunning())
	_, err = f.reg.Trigger("s3-publish", []string{"globex"}, domain.OperationArgs{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	p, err := f.reg.Progress("s3-publish")
	require.NoError(t, err)
	assert.True(t, p.IsRunning)
	assert.Equal(t, "acme", p.CurrentDomain)

	close(f.backend.gate)
	select {
	case out := <-done:
		assert.Equal(t, []string{"acme"}, out.Progress.Completed)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run")
	}
	assert.False(t, f.reg.AnyRunning())
}

func TestAbort_ThroughRegistry(t *testing.T) {
	f := newFixture(t)
	f.backend.gate = make(chan struct{})

	done, err := f.reg.Trigger("overview", []string{"acme", "globex"}, domain.OperationArgs{Date: "2026-10-01"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.backend.commands()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.reg.Abort("overview"))
	close(f.backend.gate)

	out := <-done
	assert.True(t, out.Aborted)
	assert.Equal(t, []string{"acme"}, out.Progress.Completed)
	assert.Len(t, f.backend.commands(), 1)
}

func TestUnknownOperation(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Trigger("nope", []string{"acme"}, domain.OperationArgs{})
	assert.ErrorIs(t, err, ErrUnknownOperation)
	_, err = f.reg.Run(context.Background(), "nope", nil, domain.OperationArgs{})
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.ErrorIs(t, f.reg.Abort("nope"), ErrUnknownOperation)
	_, err = f.reg.Progress("nope")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestRunOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.reg.RunOne(ctx, "overview", "acme", domain.OperationArgs{Date: "2026-10-01"})
	require.NoError(t, err)

	assert.Equal(t, domain.Completed, out.Status)
	assert.Equal(t, []call{{"val_generate_overview", commandArgs{Domain: "acme", Date: "2026-10-01"}}}, f.backend.commands())
	p, err := f.reg.Progress("overview")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStatus_CachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.reg.Status(ctx, "data-health", "acme")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(first))
	_, err = f.reg.Status(ctx, "data-health", "acme")
	require.NoError(t, err)
	assert.Len(t, f.backend.commands(), 1, "second read is served from cache")

	_, err = f.reg.Run(ctx, "data-health", []string{"acme"}, domain.OperationArgs{})
	require.NoError(t, err)
	_, err = f.reg.Status(ctx, "data-health", "acme")
	require.NoError(t, err)

	cmds := f.backend.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, call{statusCommand, commandArgs{Domain: "acme", Operation: "data-health"}}, cmds[2])
}

func TestNames_CatalogOrder(t *testing.T) {
	f := newFixture(t)
	names := f.reg.Names()
	require.Len(t, names, len(Catalog))
	assert.Equal(t, "schema-sync", names[0])
	assert.Equal(t, "overview", names[len(names)-1])
}

type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSource) ListDomains(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, nil
}

func TestDomains_EmptySourceIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := &countingSource{}
	f.reg.domains = src

	for i := 0; i < 3; i++ {
		list, err := f.reg.Domains(ctx)
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	}
	assert.Equal(t, 1, src.calls)

	raw, err := f.mr.Get("domains:list")
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}
