package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/valsync/internal/domain"
)

const (
	readyKey = "queue:runs"
	delayKey = "delay:runs"
)

// RedisQ holds bulk run requests. Requests due later wait in a sorted set
// scored by their run time until MoveDue promotes them to the ready list.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

func (q *RedisQ) Enqueue(ctx context.Context, req domain.RunRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode run request")
	}
	if time.Until(req.RunAt) > 0 {
		return errors.Wrap(q.rdb.ZAdd(ctx, delayKey, r.Z{Score: float64(req.RunAt.Unix()), Member: raw}).Err(), "delay run request")
	}
	return errors.Wrap(q.rdb.LPush(ctx, readyKey, raw).Err(), "push run request")
}

// Dequeue blocks up to block for the oldest ready request. ok is false on timeout.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (req domain.RunRequest, ok bool, err error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey).Result()
	if errors.Is(err, r.Nil) {
		return req, false, nil
	}
	if err != nil {
		return req, false, errors.Wrap(err, "pop run request")
	}
	if len(res) != 2 {
		return req, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return req, false, errors.Wrap(err, "decode run request")
	}
	return req, true, nil
}

// MoveDue promotes up to batch delayed requests whose run time is <= now.
func (q *RedisQ) MoveDue(ctx context.Context, now int64, batch int64) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch}).Result()
	if err != nil || len(members) == 0 {
		return 0, errors.Wrap(err, "scan delayed runs")
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, readyKey, m)
		pipe.ZRem(ctx, delayKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "promote delayed runs")
	}
	return len(members), nil
}

// Pending reports ready and delayed request counts.
func (q *RedisQ) Pending(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.rdb.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "count ready runs")
	}
	delayed, err = q.rdb.ZCard(ctx, delayKey).Result()
	return ready, delayed, errors.Wrap(err, "count delayed runs")
}
