package service

import (
	"context"
	"time"

	"visitstats/internal/domain"
)

// VisitorService defines the visit ingest and reporting operations
type VisitorService interface {
	// RecordVisit counts a visit from clientAddress at most once per UTC date
	RecordVisit(ctx context.Context, clientAddress string, now time.Time) (*domain.VisitResult, error)

	// Aggregate scans the store once and buckets every visit by mode
	Aggregate(ctx context.Context, now time.Time, mode domain.BucketMode) (*domain.AggregateReport, error)

	// Overview scans the store once and returns the daily and hour-of-today reports
	Overview(ctx context.Context, now time.Time) (*domain.Overview, error)

	// Health checks the underlying store
	Health(ctx context.Context) error
}
