package storage

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
)

// openTestStore connects to VALSYNC_TEST_POSTGRES_DSN, which must already be migrated.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VALSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VALSYNC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	_, err = db.Exec(ctx, `truncate background_jobs, domains`)
	require.NoError(t, err)
	return New(db, zap.NewNop())
}

func TestStore_LedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.AddJob(ctx, domain.BackgroundJob{ID: "schema-sync-1", Name: "Schema sync", Status: domain.Running})
	s.UpdateJob(ctx, "schema-sync-1", domain.JobPatch{}.WithProgress(50).WithMessage("[2/3] Syncing b..."))

	j, err := s.Get(ctx, "schema-sync-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Running, j.Status)
	assert.Equal(t, 50, j.Progress)
	assert.Equal(t, "[2/3] Syncing b...", j.Message)
	assert.Nil(t, j.CompletedAt)

	s.UpdateJob(ctx, "schema-sync-1", domain.JobPatch{}.WithStatus(domain.Completed).WithProgress(100))
	first, err := s.Get(ctx, "schema-sync-1")
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, "[2/3] Syncing b...", first.Message)

	s.UpdateJob(ctx, "schema-sync-1", domain.JobPatch{}.WithStatus(domain.Failed))
	second, err := s.Get(ctx, "schema-sync-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, second.Status)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))

	s.UpdateJob(ctx, "schema-sync-1", domain.JobPatch{}.WithStatus(domain.Running).WithMessage("late"))
	third, err := s.Get(ctx, "schema-sync-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, third.Status)
	assert.Equal(t, "late", third.Message)
	assert.True(t, first.CompletedAt.Equal(*third.CompletedAt))
}

func TestStore_UnknownJob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.UpdateJob(ctx, "missing", domain.JobPatch{}.WithStatus(domain.Completed))
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrJobNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "missing"), ledger.ErrJobNotFound)
}

func TestStore_ClearTerminalAndDomains(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.AddJob(ctx, domain.BackgroundJob{ID: "a", Status: domain.Running})
	s.AddJob(ctx, domain.BackgroundJob{ID: "b", Status: domain.Running})
	s.UpdateJob(ctx, "a", domain.JobPatch{}.WithStatus(domain.Completed))

	n, err := s.ClearTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)

	_, err = s.db.Exec(ctx, `insert into domains(name, enabled) values ('globex', true), ('acme', true), ('initech', false)`)
	require.NoError(t, err)
	names, err := s.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, names)
}
