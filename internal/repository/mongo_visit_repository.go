package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"visitstats/internal/domain"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/logger"
)

// mongoVisit is the document layout; _id carries the dedup key so the
// collection's mandatory unique index enforces one visit per key.
type mongoVisit struct {
	ID        string `bson:"_id"`
	IPAddress string `bson:"ipAddress,omitempty"`
	Date      string `bson:"date,omitempty"`
	Timestamp string `bson:"timestamp,omitempty"`
	CreatedAt string `bson:"createdAt,omitempty"`
}

func (v *mongoVisit) record() *domain.VisitRecord {
	return &domain.VisitRecord{
		DedupKey:         v.ID,
		ClientAddress:    v.IPAddress,
		BucketDate:       v.Date,
		ArrivalTimestamp: v.Timestamp,
		CreatedAt:        v.CreatedAt,
	}
}

type mongoVisitRepository struct {
	coll   *mongo.Collection
	logger *logger.Logger
}

// NewMongoVisitRepository creates a MongoDB visit repository on coll
func NewMongoVisitRepository(coll *mongo.Collection, log *logger.Logger) VisitRepository {
	return &mongoVisitRepository{
		coll:   coll,
		logger: log,
	}
}

func (r *mongoVisitRepository) PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error) {
	_, err := r.coll.InsertOne(ctx, mongoVisit{
		ID:        record.DedupKey,
		IPAddress: record.ClientAddress,
		Date:      record.BucketDate,
		Timestamp: record.ArrivalTimestamp,
		CreatedAt: record.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.AlreadyExists, nil
		}
		return 0, apperrors.NewStorageError("failed to insert visit", err)
	}
	return domain.Inserted, nil
}

func (r *mongoVisitRepository) GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error) {
	var visit mongoVisit
	err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&visit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("failed to get visit", err)
	}
	return visit.record(), nil
}

func (r *mongoVisitRepository) ScanAll(ctx context.Context) ([]*domain.VisitRecord, error) {
	cursor, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to scan visits", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.VisitRecord
	for cursor.Next(ctx) {
		var visit mongoVisit
		if err := cursor.Decode(&visit); err != nil {
			r.logger.WithError(err).Warn("Malformed visit document in MongoDB")
			visit = salvageDocument(cursor.Current)
		}
		records = append(records, visit.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.NewStorageError("error reading visit documents", err)
	}
	return records, nil
}

func (r *mongoVisitRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, apperrors.NewStorageError("failed to count visits", err)
	}
	return n, nil
}

func (r *mongoVisitRepository) Health(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, nil); err != nil {
		return apperrors.NewStorageError("mongodb unreachable", err)
	}
	return nil
}

// salvageDocument keeps the string fields of a document that failed to decode
func salvageDocument(raw bson.Raw) mongoVisit {
	str := func(name string) string {
		if v, ok := raw.Lookup(name).StringValueOK(); ok {
			return v
		}
		return ""
	}
	return mongoVisit{
		ID:        str("_id"),
		IPAddress: str("ipAddress"),
		Date:      str("date"),
		Timestamp: str("timestamp"),
		CreatedAt: str("createdAt"),
	}
}
