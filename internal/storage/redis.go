package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
)

const (
	redisDefaultListKey = "inbound_request_logs"
	redisDefaultListMax = 10000
)

// RedisAdapter keeps records in a capped list, newest first. It has no
// durable retention story, which makes it a fit for the secondary/auxiliary
// sink role (recent-traffic inspection), not for the primary archive.
type RedisAdapter struct {
	url      string
	listKey  string
	listMax  int64
	mu       sync.RWMutex
	client   *redis.Client
	warnOnce sync.Once
}

// NewRedis returns an adapter for a redis:// location string.
func NewRedis(url string) *RedisAdapter {
	return &RedisAdapter{
		url:     url,
		listKey: redisDefaultListKey,
		listMax: redisDefaultListMax,
	}
}

func (a *RedisAdapter) Name() string { return KindRedis }

func (a *RedisAdapter) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client != nil
}

func (a *RedisAdapter) EstablishConnection(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	opt, err := redis.ParseURL(a.url)
	if err != nil {
		return errdef.Configurationf("invalid redis location string %q: %v", a.url, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errdef.Connection("failed to connect to redis sink", err)
	}
	a.client = client
	return nil
}

func (a *RedisAdapter) conn() (*redis.Client, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		a.warnOnce.Do(func() {
			logger.Warn("redis sink requested but no connection is established", "url", a.url)
		})
		return nil, errdef.Connection("redis sink connection is not established", nil)
	}
	return client, nil
}

func (a *RedisAdapter) LogRequest(ctx context.Context, rec *model.LogRecord) error {
	if rec == nil {
		return nil
	}
	client, err := a.conn()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errdef.Persistence("failed to encode record", err)
	}
	if err := client.LPush(ctx, a.listKey, payload).Err(); err != nil {
		return errdef.Persistence("failed to push record", err)
	}
	_ = client.LTrim(ctx, a.listKey, 0, a.listMax-1).Err()
	return nil
}

func (a *RedisAdapter) all(ctx context.Context) ([]*model.LogRecord, error) {
	client, err := a.conn()
	if err != nil {
		return nil, err
	}
	items, err := client.LRange(ctx, a.listKey, 0, a.listMax-1).Result()
	if err != nil {
		return nil, errdef.Persistence("failed to read record list", err)
	}
	records := make([]*model.LogRecord, 0, len(items))
	for _, item := range items {
		var rec model.LogRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Search filters client-side over the capped list with the reference scan
// semantics.
func (a *RedisAdapter) Search(ctx context.Context, q Query) ([]*model.LogRecord, error) {
	records, err := a.all(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*model.LogRecord, 0, q.limit())
	for _, rec := range records {
		if !MatchRecord(rec, q) {
			continue
		}
		results = append(results, rec)
		if len(results) >= q.limit() {
			break
		}
	}
	return results, nil
}

func (a *RedisAdapter) Analyze(ctx context.Context) (Stats, error) {
	records, err := a.all(ctx)
	if err != nil {
		return Stats{}, err
	}
	var total, success, failure int64
	for _, rec := range records {
		total++
		if rec.Failure() {
			failure++
		} else if rec.Success() {
			success++
		}
	}
	return newStats(total, success, failure), nil
}

// Cleanup rewrites the list keeping only records newer than the cutoff.
func (a *RedisAdapter) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	client, err := a.conn()
	if err != nil {
		return 0, err
	}
	records, err := a.all(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := cutoffDate(olderThanDays)
	kept := make([]any, 0, len(records))
	var removed int64
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		kept = append(kept, payload)
	}
	if removed == 0 {
		return 0, nil
	}
	pipe := client.TxPipeline()
	pipe.Del(ctx, a.listKey)
	if len(kept) > 0 {
		// list is newest-first; RPush in iteration order preserves that
		pipe.RPush(ctx, a.listKey, kept...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errdef.Persistence("cleanup failed", err)
	}
	return removed, nil
}

func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
