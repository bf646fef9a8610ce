package statuscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthStatus struct {
	Score int    `json:"score"`
	Grade string `json:"grade"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute), mr
}

func TestCache_PutGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Put(ctx, "query-health", "acme", healthStatus{Score: 87, Grade: "B"}))
	assert.True(t, mr.Exists("status:query-health:acme"))
	assert.Equal(t, time.Minute, mr.TTL("status:query-health:acme"))

	var got healthStatus
	ok, err := c.Get(ctx, "query-health", "acme", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, healthStatus{Score: 87, Grade: "B"}, got)

	require.NoError(t, c.Invalidate(ctx, "query-health", "acme"))
	ok, err = c.Get(ctx, "query-health", "acme", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_InvalidateOnlyTouchesOneKey(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Put(ctx, "schema-sync", "acme", map[string]int{"n": 1}))
	require.NoError(t, c.Put(ctx, "schema-sync", "globex", map[string]int{"n": 2}))
	require.NoError(t, c.PutList(ctx, []string{"acme", "globex"}))

	require.NoError(t, c.Invalidate(ctx, "schema-sync", "acme"))

	assert.False(t, mr.Exists("status:schema-sync:acme"))
	assert.True(t, mr.Exists("status:schema-sync:globex"))
	list, err := c.GetList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, list)
}

func TestCache_ListInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	list, err := c.GetList(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)

	require.NoError(t, c.PutList(ctx, []string{"acme"}))
	require.NoError(t, c.InvalidateList(ctx))
	list, err = c.GetList(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)
}
