package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"visitstats/internal/domain"
	"visitstats/internal/repository"
	"visitstats/internal/service"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/logger"
)

var handlerNow = time.Date(2024, 1, 15, 14, 30, 5, 0, time.UTC)

// MockVisitorService for testing error mapping
type MockVisitorService struct {
	mock.Mock
}

func (m *MockVisitorService) RecordVisit(ctx context.Context, clientAddress string, now time.Time) (*domain.VisitResult, error) {
	args := m.Called(ctx, clientAddress, now)
	res, _ := args.Get(0).(*domain.VisitResult)
	return res, args.Error(1)
}

func (m *MockVisitorService) Aggregate(ctx context.Context, now time.Time, mode domain.BucketMode) (*domain.AggregateReport, error) {
	args := m.Called(ctx, now, mode)
	rep, _ := args.Get(0).(*domain.AggregateReport)
	return rep, args.Error(1)
}

func (m *MockVisitorService) Overview(ctx context.Context, now time.Time) (*domain.Overview, error) {
	args := m.Called(ctx, now)
	ov, _ := args.Get(0).(*domain.Overview)
	return ov, args.Error(1)
}

func (m *MockVisitorService) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestRouter(svc service.VisitorService, mode domain.BucketMode) chi.Router {
	h := NewVisitorHandler(svc, logger.NewNop(), mode)
	h.now = func() time.Time { return handlerNow }

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func newMemoryRouter(mode domain.BucketMode) chi.Router {
	svc := service.NewVisitorService(repository.NewMemoryVisitRepository(), logger.NewNop())
	return newTestRouter(svc, mode)
}

func doRequest(t *testing.T, r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRecordVisit(t *testing.T) {
	r := newMemoryRouter(domain.ByDate)
	headers := map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}

	rec := doRequest(t, r, http.MethodPost, "/visit", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var first VisitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, VisitResponse{
		Message:    "Visit recorded",
		IsNewVisit: true,
		TotalCount: 1,
		Timestamp:  "2024-01-15T14:30:05.000Z",
	}, first)

	rec = doRequest(t, r, http.MethodPost, "/api/visitor/visit", headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "Already counted today", second["message"])
	assert.Equal(t, false, second["isNewVisit"])
	assert.Equal(t, float64(0), second["totalCount"])
	assert.NotContains(t, second, "timestamp")
}

func TestRecordVisit_ConcurrentRequests(t *testing.T) {
	r := newMemoryRouter(domain.ByDate)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		newVisits int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doRequest(t, r, http.MethodPost, "/visit", map[string]string{"X-Real-IP": "192.0.2.44"})
			var body VisitResponse
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body)) && body.IsNewVisit {
				mu.Lock()
				newVisits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, newVisits)
}

func TestRecordVisit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{
			name:       "storage failure",
			err:        apperrors.NewStorageError("failed to insert visit", errors.New("connection reset")),
			wantStatus: http.StatusServiceUnavailable,
			wantType:   apperrors.ErrorTypeStorage,
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   apperrors.ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockVisitorService{}
			svc.On("RecordVisit", mock.Anything, "unknown", handlerNow).Return(nil, tt.err).Once()

			r := newTestRouter(svc, domain.ByDate)
			req := httptest.NewRequest(http.MethodPost, "/visit", nil)
			req.RemoteAddr = ""
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantType, body.Error.Type)
			assert.Equal(t, "Failed to record visit", body.Error.Message)
			svc.AssertExpectations(t)
		})
	}
}

func TestGetStats_Overview(t *testing.T) {
	repo := repository.NewMemoryVisitRepository()
	repo.Load(
		&domain.VisitRecord{DedupKey: "2024-01-14#a", ClientAddress: "a", BucketDate: "2024-01-14", ArrivalTimestamp: "2024-01-14T08:00:00.000Z"},
		&domain.VisitRecord{DedupKey: "2024-01-15#a", ClientAddress: "a", BucketDate: "2024-01-15", ArrivalTimestamp: "2024-01-15T09:10:00.000Z"},
		&domain.VisitRecord{DedupKey: "2024-01-15#b", ClientAddress: "b", BucketDate: "2024-01-15", ArrivalTimestamp: "2024-01-15T09:45:00.000Z"},
	)
	r := newTestRouter(service.NewVisitorService(repo, logger.NewNop()), domain.ByDate)

	for _, path := range []string{"/stats", "/api/visitor/stats", "/stats?mode=hour"} {
		t.Run(path, func(t *testing.T) {
			rec := doRequest(t, r, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var body OverviewResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

			assert.Equal(t, int64(3), body.TotalCount)
			assert.Equal(t, []DateCount{
				{Date: "2024-01-14", Count: 1},
				{Date: "2024-01-15", Count: 2},
			}, body.VisitsByDate)
			require.Len(t, body.VisitsByHour, 24)
			for i, hc := range body.VisitsByHour {
				assert.Equal(t, i, hc.Hour)
			}
			assert.Equal(t, int64(2), body.VisitsByHour[9].Count)
			assert.Len(t, body.AllVisits, 3)
			assert.Equal(t, "2024-01-14#a", body.AllVisits[0].DedupKey)
		})
	}
}

func TestGetStats_EmptyStore(t *testing.T) {
	r := newMemoryRouter(domain.ByDate)

	rec := doRequest(t, r, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, "0", string(raw["totalCount"]))
	assert.JSONEq(t, "[]", string(raw["visitsByDate"]))
	assert.JSONEq(t, "[]", string(raw["allVisits"]))
}

func TestGetStats_MinuteMode(t *testing.T) {
	repo := repository.NewMemoryVisitRepository()
	repo.Load(
		&domain.VisitRecord{DedupKey: "2024-01-15#a", BucketDate: "2024-01-15", ArrivalTimestamp: "2024-01-15T14:30:00.000Z"},
		&domain.VisitRecord{DedupKey: "2024-01-15#b", BucketDate: "2024-01-15", ArrivalTimestamp: "2024-01-15T14:30:40.000Z"},
		&domain.VisitRecord{DedupKey: "2024-02-01#c", BucketDate: "2024-02-01"},
	)
	svc := service.NewVisitorService(repo, logger.NewNop())

	t.Run("configured default", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(svc, domain.ByDateTimeMinute), http.MethodGet, "/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"totalCount":3,"stats":[{"date":"2024-01-15 14:30","count":2},{"date":"2024-02-01 00:00","count":1}]}`, rec.Body.String())
	})

	t.Run("query override", func(t *testing.T) {
		rec := doRequest(t, newTestRouter(svc, domain.ByDate), http.MethodGet, "/api/visitor/stats?mode=MINUTE", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body MinuteStatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(3), body.TotalCount)
		assert.Len(t, body.Stats, 2)
	})
}

func TestGetStats_InvalidMode(t *testing.T) {
	rec := doRequest(t, newMemoryRouter(domain.ByDate), http.MethodGet, "/stats?mode=weekly", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
}

func TestGetStats_StorageFailure(t *testing.T) {
	svc := &MockVisitorService{}
	storeErr := apperrors.NewStorageError("failed to scan visits", errors.New("timeout"))
	svc.On("Overview", mock.Anything, handlerNow).Return(nil, storeErr)
	svc.On("Aggregate", mock.Anything, handlerNow, domain.ByDateTimeMinute).Return(nil, storeErr)

	r := newTestRouter(svc, domain.ByDate)

	for _, path := range []string{"/stats", "/stats?mode=minute"} {
		rec := doRequest(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	}
	svc.AssertExpectations(t)
}

func TestHealthCheck(t *testing.T) {
	healthy := &MockVisitorService{}
	healthy.On("Health", mock.Anything).Return(nil)
	rec := doRequest(t, newTestRouter(healthy, domain.ByDate), http.MethodGet, "/api/visitor/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	down := &MockVisitorService{}
	down.On("Health", mock.Anything).Return(errors.New("unreachable"))
	rec = doRequest(t, newTestRouter(down, domain.ByDate), http.MethodGet, "/api/visitor/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "first forwarded entry wins",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.1 , 10.0.0.2", "X-Real-IP": "10.9.9.9"},
			remoteAddr: "127.0.0.1:5000",
			want:       "198.51.100.1",
		},
		{
			name:       "real ip when no forwarded header",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			remoteAddr: "127.0.0.1:5000",
			want:       "198.51.100.2",
		},
		{
			name:       "empty forwarded entry falls through",
			headers:    map[string]string{"X-Forwarded-For": ",10.0.0.2", "X-Real-IP": "198.51.100.3"},
			remoteAddr: "127.0.0.1:5000",
			want:       "198.51.100.3",
		},
		{
			name:       "remote address without port",
			remoteAddr: "192.0.2.10:41234",
			want:       "192.0.2.10",
		},
		{
			name:       "ipv6 remote address",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "unparseable remote address kept verbatim",
			remoteAddr: "pipe",
			want:       "pipe",
		},
		{
			name: "nothing available",
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/visit", strings.NewReader(""))
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientAddress(req))
		})
	}
}
