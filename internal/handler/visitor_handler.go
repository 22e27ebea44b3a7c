package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"visitstats/internal/domain"
	"visitstats/internal/middleware"
	"visitstats/internal/service"
	apperrors "visitstats/pkg/errors"
	"visitstats/pkg/logger"
)

const (
	msgVisitRecorded  = "Visit recorded"
	msgAlreadyCounted = "Already counted today"
)

// VisitorHandler handles visit recording and statistics HTTP requests
type VisitorHandler struct {
	visitorService service.VisitorService
	logger         *logger.Logger
	defaultMode    domain.BucketMode
	now            func() time.Time
}

// NewVisitorHandler creates a new visitor handler. defaultMode is used by
// GET /stats when the request has no mode parameter.
func NewVisitorHandler(visitorService service.VisitorService, log *logger.Logger, defaultMode domain.BucketMode) *VisitorHandler {
	return &VisitorHandler{
		visitorService: visitorService,
		logger:         log.Component("visitor_handler"),
		defaultMode:    defaultMode,
		now:            time.Now,
	}
}

// VisitResponse is the body of POST /visit
type VisitResponse struct {
	Message    string `json:"message"`
	IsNewVisit bool   `json:"isNewVisit"`
	TotalCount int64  `json:"totalCount"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// DateCount is one date (or date-time) bucket
type DateCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// HourCount is one hour-of-today bucket
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// OverviewResponse is the body of GET /stats in date and hour modes
type OverviewResponse struct {
	TotalCount   int64                 `json:"totalCount"`
	VisitsByDate []DateCount           `json:"visitsByDate"`
	VisitsByHour []HourCount           `json:"visitsByHour"`
	AllVisits    []*domain.VisitRecord `json:"allVisits"`
}

// MinuteStatsResponse is the body of GET /stats in minute mode
type MinuteStatsResponse struct {
	TotalCount int64       `json:"totalCount"`
	Stats      []DateCount `json:"stats"`
}

// RecordVisit handles POST /visit
func (h *VisitorHandler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientAddress := ClientAddress(r)

	result, err := h.visitorService.RecordVisit(ctx, clientAddress, h.now())
	if err != nil {
		h.sendError(w, r, err, "Failed to record visit")
		return
	}

	response := VisitResponse{
		Message:    msgAlreadyCounted,
		IsNewVisit: result.IsNewVisit,
		TotalCount: result.TotalCount,
	}
	if result.IsNewVisit {
		response.Message = msgVisitRecorded
		response.Timestamp = result.Timestamp
	}

	h.writeJSON(w, http.StatusOK, response)

	h.logger.WithFields(map[string]interface{}{
		"ip":           clientAddress,
		"is_new_visit": result.IsNewVisit,
		"total_count":  result.TotalCount,
		"request_id":   middleware.GetRequestID(ctx),
	}).Debug("Visit handled")
}

// GetStats handles GET /stats. The response layout depends on the bucket mode:
// date and hour return the overview, minute returns per-minute buckets.
func (h *VisitorHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mode := h.defaultMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, err := domain.ParseBucketMode(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, r, apperrors.NewValidationError(err.Error(),
				map[string]interface{}{"mode": raw}), h.logger)
			return
		}
		mode = parsed
	}

	now := h.now()

	if mode == domain.ByDateTimeMinute {
		report, err := h.visitorService.Aggregate(ctx, now, mode)
		if err != nil {
			h.sendError(w, r, err, "Failed to aggregate visits")
			return
		}
		h.writeJSON(w, http.StatusOK, MinuteStatsResponse{
			TotalCount: report.TotalCount,
			Stats:      dateCounts(report),
		})
		return
	}

	overview, err := h.visitorService.Overview(ctx, now)
	if err != nil {
		h.sendError(w, r, err, "Failed to load visit statistics")
		return
	}

	visits := overview.Visits
	if visits == nil {
		visits = []*domain.VisitRecord{}
	}

	h.writeJSON(w, http.StatusOK, OverviewResponse{
		TotalCount:   overview.TotalCount,
		VisitsByDate: dateCounts(overview.ByDate),
		VisitsByHour: hourCounts(overview.ByHour),
		AllVisits:    visits,
	})
}

// HealthCheck handles GET /api/visitor/health
func (h *VisitorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := h.visitorService.Health(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Visit store health check failed")
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"success":   code == http.StatusOK,
		"service":   "visitor",
		"status":    status,
		"timestamp": h.now().UTC(),
	})
}

// RegisterRoutes registers visitor handler routes with the router
func (h *VisitorHandler) RegisterRoutes(r chi.Router) {
	r.Post("/visit", h.RecordVisit)
	r.Get("/stats", h.GetStats)

	r.Route("/api/visitor", func(r chi.Router) {
		r.Post("/visit", h.RecordVisit)
		r.Get("/stats", h.GetStats)
		r.Get("/health", h.HealthCheck)
	})
}

// ClientAddress picks the client address: first X-Forwarded-For entry,
// then X-Real-IP, then the connection's remote address, else "unknown".
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}

	return domain.UnknownAddress
}

func dateCounts(report *domain.AggregateReport) []DateCount {
	out := make([]DateCount, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		out = append(out, DateCount{Date: b.Key, Count: b.Count})
	}
	return out
}

func hourCounts(report *domain.AggregateReport) []HourCount {
	out := make([]HourCount, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		hour, err := strconv.Atoi(b.Key)
		if err != nil {
			continue
		}
		out = append(out, HourCount{Hour: hour, Count: b.Count})
	}
	return out
}

// sendError maps service errors onto the JSON error envelope. Store failures
// become 503 so clients can retry; anything unrecognised is a 500.
func (h *VisitorHandler) sendError(w http.ResponseWriter, r *http.Request, err error, message string) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError(message, err)
	} else if appErr.Type == apperrors.ErrorTypeStorage {
		appErr = apperrors.NewStorageError(message, err)
	}
	middleware.WriteErrorResponse(w, r, appErr, h.logger)
}

func (h *VisitorHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
