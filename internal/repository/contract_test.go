package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitstats/internal/domain"
)

var testNow = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

// testRepositoryContract exercises the behaviour every VisitRepository backend must share
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) VisitRepository) {
	now := testNow

	t.Run("put then get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := domain.NewVisitRecord("10.0.0.1", now)

		res, err := repo.PutIfAbsent(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, domain.Inserted, res)

		got, err := repo.GetByKey(ctx, rec.DedupKey)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *rec, *got)
	})

	t.Run("get missing key", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.GetByKey(context.Background(), "2024-01-01#nobody")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("second put does not overwrite", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		first := domain.NewVisitRecord("10.0.0.1", now)
		second := domain.NewVisitRecord("10.0.0.1", now.Add(time.Hour))
		require.Equal(t, first.DedupKey, second.DedupKey)

		res, err := repo.PutIfAbsent(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, domain.Inserted, res)

		res, err = repo.PutIfAbsent(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, domain.AlreadyExists, res)

		got, err := repo.GetByKey(ctx, first.DedupKey)
		require.NoError(t, err)
		assert.Equal(t, first.ArrivalTimestamp, got.ArrivalTimestamp)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("scan and count", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		for _, addr := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
			_, err := repo.PutIfAbsent(ctx, domain.NewVisitRecord(addr, now))
			require.NoError(t, err)
		}
		_, err := repo.PutIfAbsent(ctx, domain.NewVisitRecord("10.0.0.1", now.AddDate(0, 0, 1)))
		require.NoError(t, err)

		records, err := repo.ScanAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, "2024-01-15#10.0.0.1", records[0].DedupKey)
		assert.Equal(t, "2024-01-16#10.0.0.1", records[3].DedupKey)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("concurrent puts insert once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const workers = 16
		var inserted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				res, err := repo.PutIfAbsent(ctx, domain.NewVisitRecord("192.168.0.7", now))
				if assert.NoError(t, err) && res == domain.Inserted {
					inserted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), inserted.Load())
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, newRepo(t).Health(context.Background()))
	})
}
