package repository

import (
	"context"

	"visitstats/internal/domain"
)

// VisitRepository is the durable key-value store of counted visits.
// Implementations wrap every backend error with errors.NewStorageError.
type VisitRepository interface {
	// GetByKey returns the record stored under key, or nil when absent
	GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error)

	// PutIfAbsent stores the record only if no record with the same dedup key
	// exists. The check and the write are a single atomic operation.
	PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error)

	// ScanAll returns every stored record
	ScanAll(ctx context.Context) ([]*domain.VisitRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int64, error)

	// Health checks that the backend is reachable
	Health(ctx context.Context) error
}
