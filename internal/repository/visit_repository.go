package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"visitstats/internal/domain"
	"visitstats/pkg/database"
	apperrors "visitstats/pkg/errors"
)

// visitRepository stores visits in a PostgreSQL table keyed by dedup_key
type visitRepository struct {
	db    *database.PostgresDB
	table string // sanitized identifier
}

// NewVisitRepository creates a PostgreSQL visit repository for the given table
func NewVisitRepository(db *database.PostgresDB, table string) VisitRepository {
	return &visitRepository{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

// PutIfAbsent relies on the primary key: ON CONFLICT DO NOTHING affects zero
// rows when a concurrent insert already won.
func (r *visitRepository) PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error) {
	query := `
		INSERT INTO ` + r.table + ` (dedup_key, client_address, bucket_date, arrival_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		record.DedupKey,
		record.ClientAddress,
		record.BucketDate,
		record.ArrivalTimestamp,
		record.CreatedAt,
	)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to insert visit", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.AlreadyExists, nil
	}
	return domain.Inserted, nil
}

// GetByKey retrieves a visit by dedup key
func (r *visitRepository) GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error) {
	query := `
		SELECT dedup_key, client_address, bucket_date, COALESCE(arrival_timestamp, ''), COALESCE(created_at, '')
		FROM ` + r.table + `
		WHERE dedup_key = $1
	`

	record := &domain.VisitRecord{}
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(
		&record.DedupKey,
		&record.ClientAddress,
		&record.BucketDate,
		&record.ArrivalTimestamp,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("failed to get visit", err)
	}

	return record, nil
}

// ScanAll reads every visit from the read pool
func (r *visitRepository) ScanAll(ctx context.Context) ([]*domain.VisitRecord, error) {
	query := `
		SELECT dedup_key, client_address, bucket_date, COALESCE(arrival_timestamp, ''), COALESCE(created_at, '')
		FROM ` + r.table + `
		ORDER BY dedup_key
	`

	rows, err := r.db.GetReadPool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to scan visits", err)
	}
	defer rows.Close()

	var records []*domain.VisitRecord
	for rows.Next() {
		record := &domain.VisitRecord{}
		if err := rows.Scan(
			&record.DedupKey,
			&record.ClientAddress,
			&record.BucketDate,
			&record.ArrivalTimestamp,
			&record.CreatedAt,
		); err != nil {
			return nil, apperrors.NewStorageError("failed to scan visit row", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("error reading visit rows", err)
	}

	return records, nil
}

// Count uses the write pool so a count taken right after an insert includes it
func (r *visitRepository) Count(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM ` + r.table

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, apperrors.NewStorageError("failed to count visits", err)
	}

	return count, nil
}

func (r *visitRepository) Health(ctx context.Context) error {
	if err := r.db.Health(ctx); err != nil {
		return apperrors.NewStorageError("database unreachable", err)
	}
	return nil
}
