package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"admission-sidecar/sidecar/admission/domain"
)

// RedisRecordSink agrega os registros de conclusão em hashes no Redis.
//
// Chaves:
//
//	<prefix>:total                 completed, actual_us, over_expected
//	<prefix>:task                  <taskKey>:completed, <taskKey>:actual_us
//	<prefix>:server:<id>           completed, actual_us
//	<prefix>:minute:<yyyymmddhhmm> completed (expira com ttl)
type RedisRecordSink struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisRecordOption func(*RedisRecordSink)

func WithRecordPrefix(prefix string) RedisRecordOption {
	return func(s *RedisRecordSink) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithRecordTTL(d time.Duration) RedisRecordOption {
	return func(s *RedisRecordSink) { s.ttl = d }
}

func WithRecordBucket(bucket string) RedisRecordOption {
	return func(s *RedisRecordSink) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisRecordSink(rdb *redis.Client, opts ...RedisRecordOption) *RedisRecordSink {
	s := &RedisRecordSink{
		rdb:    rdb,
		prefix: "smartdrop:records",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implementa domain.RecordSink.
func (s *RedisRecordSink) Record(ctx context.Context, rec domain.CompletedRecord) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := rec.CompletedAt
	if at.IsZero() {
		at = time.Now()
	}
	actualUs := rec.Actual.Microseconds()
	key := string(rec.Profile.Key)

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, "completed", 1)
	pipe.HIncrBy(ctx, totalKey, "actual_us", actualUs)
	if rec.Actual > rec.Profile.AvgTime {
		pipe.HIncrBy(ctx, totalKey, "over_expected", 1)
	}

	taskKey := s.prefix + ":task"
	pipe.HIncrBy(ctx, taskKey, key+":completed", 1)
	pipe.HIncrBy(ctx, taskKey, key+":actual_us", actualUs)

	if rec.Server != "" {
		serverKey := s.prefix + ":server:" + string(rec.Server)
		pipe.HIncrBy(ctx, serverKey, "completed", 1)
		pipe.HIncrBy(ctx, serverKey, "actual_us", actualUs)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, "completed", 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
