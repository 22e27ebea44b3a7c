package service

import (
	"context"
	"fmt"
	"time"

	"visitstats/internal/domain"
	"visitstats/internal/repository"
	"visitstats/pkg/logger"
)

// visitorService implements VisitorService over a VisitRepository. It holds no
// state between calls; the repository is the only shared resource.
type visitorService struct {
	repo   repository.VisitRepository
	logger *logger.Logger
}

// NewVisitorService creates a new visitor service
func NewVisitorService(repo repository.VisitRepository, log *logger.Logger) VisitorService {
	return &visitorService{
		repo:   repo,
		logger: log,
	}
}

// RecordVisit performs one conditional insert and, only for a new visit, one count.
// Store errors are returned as they are; retrying is up to the caller.
func (s *visitorService) RecordVisit(ctx context.Context, clientAddress string, now time.Time) (*domain.VisitResult, error) {
	record := domain.NewVisitRecord(clientAddress, now)

	result, err := s.repo.PutIfAbsent(ctx, record)
	if err != nil {
		s.logger.WithError(err).WithField("bucket_date", record.BucketDate).Error("Failed to record visit")
		return nil, fmt.Errorf("failed to record visit: %w", err)
	}

	if result == domain.AlreadyExists {
		s.logger.WithFields(map[string]interface{}{
			"ip":          record.ClientAddress,
			"bucket_date": record.BucketDate,
		}).Debug("Visit already counted today")
		return &domain.VisitResult{IsNewVisit: false, TotalCount: 0}, nil
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count visits after insert")
		return nil, fmt.Errorf("failed to count visits: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"ip":          record.ClientAddress,
		"bucket_date": record.BucketDate,
		"total_count": total,
	}).Debug("Visit recorded successfully")

	return &domain.VisitResult{
		IsNewVisit: true,
		TotalCount: total,
		Timestamp:  record.ArrivalTimestamp,
	}, nil
}

// Aggregate buckets a full scan of the store
func (s *visitorService) Aggregate(ctx context.Context, now time.Time, mode domain.BucketMode) (*domain.AggregateReport, error) {
	records, err := s.repo.ScanAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan visits")
		return nil, fmt.Errorf("failed to aggregate visits: %w", err)
	}

	report := AggregateRecords(records, now, mode)

	s.logger.WithFields(map[string]interface{}{
		"mode":        mode,
		"total_count": report.TotalCount,
		"buckets":     len(report.Buckets),
	}).Debug("Visits aggregated")

	return report, nil
}

// Overview builds the daily and hourly reports from a single scan
func (s *visitorService) Overview(ctx context.Context, now time.Time) (*domain.Overview, error) {
	records, err := s.repo.ScanAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan visits")
		return nil, fmt.Errorf("failed to build visit overview: %w", err)
	}

	return &domain.Overview{
		TotalCount: int64(len(records)),
		ByDate:     AggregateRecords(records, now, domain.ByDate),
		ByHour:     AggregateRecords(records, now, domain.ByHourToday),
		Visits:     records,
	}, nil
}

func (s *visitorService) Health(ctx context.Context) error {
	return s.repo.Health(ctx)
}
