package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"visitstats/internal/domain"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/logger"
	"visitstats/pkg/redis"
)

// redisVisitRepository keeps all visits of a table in one Redis hash:
// field = dedup key, value = JSON record. HSETNX makes the insert conditional.
type redisVisitRepository struct {
	client *redis.Client
	key    string
	logger *logger.Logger
}

// NewRedisVisitRepository creates a Redis-backed visit repository
func NewRedisVisitRepository(client *redis.Client, table string, log *logger.Logger) VisitRepository {
	return &redisVisitRepository{
		client: client,
		key:    client.KeyBuilder.KeyVisits(table),
		logger: log,
	}
}

func (r *redisVisitRepository) PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to encode visit", err)
	}

	ok, err := r.client.HSetNX(ctx, r.key, record.DedupKey, payload)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to insert visit", err)
	}
	if !ok {
		return domain.AlreadyExists, nil
	}
	return domain.Inserted, nil
}

func (r *redisVisitRepository) GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error) {
	raw, err := r.client.HGet(ctx, r.key, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("failed to get visit", err)
	}
	return r.decode(key, raw), nil
}

// ScanAll returns every visit ordered by dedup key. Values that fail to decode
// are kept with the fields recoverable from their dedup key so aggregation can
// still bucket them.
func (r *redisVisitRepository) ScanAll(ctx context.Context) ([]*domain.VisitRecord, error) {
	all, err := r.client.HGetAll(ctx, r.key)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to scan visits", err)
	}

	records := make([]*domain.VisitRecord, 0, len(all))
	for field, raw := range all {
		records = append(records, r.decode(field, raw))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DedupKey < records[j].DedupKey })
	return records, nil
}

func (r *redisVisitRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.client.HLen(ctx, r.key)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to count visits", err)
	}
	return n, nil
}

func (r *redisVisitRepository) Health(ctx context.Context) error {
	if err := r.client.Health(ctx); err != nil {
		return apperrors.NewStorageError("redis unreachable", err)
	}
	return nil
}

func (r *redisVisitRepository) decode(field, raw string) *domain.VisitRecord {
	record := &domain.VisitRecord{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		r.logger.WithError(err).WithField("key_prefix", field[:min(len(field), 11)]).Warn("Malformed visit record in Redis")
		record = &domain.VisitRecord{}
	}
	record.DedupKey = field

	if record.ClientAddress == "" || record.BucketDate == "" {
		if address, date, err := domain.SplitDedupKey(field); err == nil {
			if record.ClientAddress == "" {
				record.ClientAddress = address
			}
			if record.BucketDate == "" {
				record.BucketDate = date
			}
		}
	}
	return record
}
