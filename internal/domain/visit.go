package domain

import (
	"fmt"
	"strings"
	"time"
)

// UnknownAddress is recorded when no client address can be extracted from a request
const UnknownAddress = "unknown"

// Date and timestamp layouts used for stored visits
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// VisitRecord represents one counted visit. At most one record exists per
// (client address, bucket date) pair; records are never updated or deleted.
type VisitRecord struct {
	DedupKey         string `json:"id" db:"dedup_key"`
	ClientAddress    string `json:"ipAddress" db:"client_address"`
	BucketDate       string `json:"date" db:"bucket_date"`
	ArrivalTimestamp string `json:"timestamp" db:"arrival_timestamp"`
	CreatedAt        string `json:"createdAt" db:"created_at"`
}

// NewVisitRecord builds the record for a visit from address arriving at now
func NewVisitRecord(address string, now time.Time) *VisitRecord {
	if address == "" {
		address = UnknownAddress
	}
	now = now.UTC()
	date := BucketDate(now)
	ts := now.Format(TimestampLayout)

	return &VisitRecord{
		DedupKey:         DedupKey(address, date),
		ClientAddress:    address,
		BucketDate:       date,
		ArrivalTimestamp: ts,
		CreatedAt:        ts,
	}
}

// BucketDate returns the UTC calendar date of t as YYYY-MM-DD
func BucketDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DedupKey combines a bucket date and a client address into the record identity.
// The date is always ten characters wide so the separator position is fixed and
// distinct (address, date) pairs never produce the same key.
func DedupKey(address, date string) string {
	return date + "#" + address
}

// SplitDedupKey reverses DedupKey
func SplitDedupKey(key string) (address, date string, err error) {
	if len(key) < len(DateLayout)+1 || key[len(DateLayout)] != '#' {
		return "", "", fmt.Errorf("malformed dedup key %q", key)
	}
	return key[len(DateLayout)+1:], key[:len(DateLayout)], nil
}

// InsertResult is the outcome of a conditional insert
type InsertResult int

const (
	// Inserted means the record did not exist and has been written
	Inserted InsertResult = iota
	// AlreadyExists means a record with the same dedup key was already stored
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// VisitResult is returned by the ingest path
type VisitResult struct {
	IsNewVisit bool
	TotalCount int64
	Timestamp  string
}

// BucketMode selects the aggregation granularity
type BucketMode string

const (
	ByDate           BucketMode = "date"
	ByHourToday      BucketMode = "hour"
	ByDateTimeMinute BucketMode = "minute"
)

// ParseBucketMode parses a bucket mode name, case-insensitively
func ParseBucketMode(s string) (BucketMode, error) {
	switch BucketMode(strings.ToLower(strings.TrimSpace(s))) {
	case ByDate:
		return ByDate, nil
	case ByHourToday:
		return ByHourToday, nil
	case ByDateTimeMinute:
		return ByDateTimeMinute, nil
	default:
		return "", fmt.Errorf("unknown bucket mode %q (expected date, hour or minute)", s)
	}
}

// BucketCount is a single (bucket key, count) pair of a report
type BucketCount struct {
	Key   string
	Count int64
}

// AggregateReport is computed on every aggregation call and never persisted
type AggregateReport struct {
	TotalCount int64
	Mode       BucketMode
	Buckets    []BucketCount
}

// Overview combines the daily and hour-of-today reports built from one scan
type Overview struct {
	TotalCount int64
	ByDate     *AggregateReport
	ByHour     *AggregateReport
	Visits     []*VisitRecord
}
