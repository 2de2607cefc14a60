package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dorianinnovations/numina-collective/pkg/aggregate"
	"github.com/dorianinnovations/numina-collective/pkg/batch"
	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/domain"
	"github.com/dorianinnovations/numina-collective/pkg/httpx"
	"github.com/dorianinnovations/numina-collective/pkg/scheduler"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
)

// MaxEventsPerRequest bounds one ingestion payload.
const MaxEventsPerRequest = 1000

// Handler exposes the aggregation pipeline over HTTP.
type Handler struct {
	store   storage.Store
	engine  *aggregate.Engine
	runner  *scheduler.Runner
	batcher *batch.Batcher
}

// NewHandler creates the HTTP handler set.
func NewHandler(store storage.Store, engine *aggregate.Engine, runner *scheduler.Runner, batcher *batch.Batcher) *Handler {
	return &Handler{
		store:   store,
		engine:  engine,
		runner:  runner,
		batcher: batcher,
	}
}

// EventsRequest is the ingestion payload.
type EventsRequest struct {
	Events []domain.AnalyticsEvent `json:"events"`
}

// EventsResponse acknowledges buffered events.
type EventsResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HandleEvents buffers analytics events through the batcher. Events are
// accepted immediately; the durable write happens on the next flush.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Events) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "no events in request")
		return
	}
	if len(req.Events) > MaxEventsPerRequest {
		httpx.RespondErrorString(w, http.StatusBadRequest, "too many events in request")
		return
	}

	for _, event := range req.Events {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		h.batcher.Add(event)
	}

	httpx.RespondJSON(w, http.StatusAccepted, EventsResponse{
		Status: "buffered",
		Count:  len(req.Events),
	})
}

// HandleAggregateEmotions serves the time-bucketed emotional aggregate.
// Query params: range, group_by, intensity, contexts, min_consent.
func (h *Handler) HandleAggregateEmotions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := aggregate.Options{
		TimeRange:        q.Get("range"),
		GroupBy:          aggregate.ParseGranularity(q.Get("group_by")),
		IncludeIntensity: q.Get("intensity") == "true",
		IncludeContext:   q.Get("contexts") == "true",
	}
	if raw := q.Get("min_consent"); raw != "" {
		minConsent, err := strconv.Atoi(raw)
		if err != nil || minConsent < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid min_consent")
			return
		}
		opts.MinConsentCount = minConsent
	}

	result := h.engine.AggregatedEmotionalData(r.Context(), opts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(w, status, result)
}

// HandleDemographics serves the population-level demographic patterns.
func (h *Handler) HandleDemographics(w http.ResponseWriter, r *http.Request) {
	result := h.engine.DemographicPatterns(r.Context(), aggregate.DemographicOptions{
		IncludeActivityPatterns: r.URL.Query().Get("activity") == "true",
	})
	status := http.StatusOK
	if !result.Success {
		status = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(w, status, result)
}

// HandleInsights serves the real-time (last 24h) insight view.
func (h *Handler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	result := h.engine.RealTimeInsights(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(w, status, result)
}

// HandleSnapshot serves the latest materialized snapshot.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.runner.LatestSnapshot()
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "no snapshot available yet")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, snapshot)
}

// HandleSchedulerStart starts the scheduling loop.
func (h *Handler) HandleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.runner.Start()
	httpx.RespondJSON(w, http.StatusOK, h.runner.Status())
}

// HandleSchedulerStop stops the scheduling loop.
func (h *Handler) HandleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.runner.Stop()
	httpx.RespondJSON(w, http.StatusOK, h.runner.Status())
}

// HandleSchedulerTrigger runs one cycle outside the schedule.
func (h *Handler) HandleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.TriggerNow(r.Context()); err != nil {
		httpx.RespondError(w, http.StatusConflict, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.runner.Status())
}

// IntervalRequest carries a new scheduler interval in minutes.
type IntervalRequest struct {
	Minutes float64 `json:"minutes"`
}

// HandleSchedulerInterval updates the scheduling interval.
func (h *Handler) HandleSchedulerInterval(w http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.runner.SetInterval(req.Minutes); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.runner.Status())
}

// HandleSchedulerStatus serves the runner's current state.
func (h *Handler) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.runner.Status())
}

// HandleSchedulerStats serves run/error counters and success rate.
func (h *Handler) HandleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.runner.Stats())
}

// HandleSchedulerStatsReset zeroes the counters.
func (h *Handler) HandleSchedulerStatsReset(w http.ResponseWriter, r *http.Request) {
	h.runner.ResetStats()
	httpx.RespondJSON(w, http.StatusOK, h.runner.Stats())
}

// HandleCacheFlush clears every cached aggregate (manual refresh).
func (h *Handler) HandleCacheFlush(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearCache()
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// HandleHealth returns service health, including store reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "up"
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		storeStatus = "down"
		status = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, status, map[string]interface{}{
		"status":    http.StatusText(status),
		"store":     storeStatus,
		"scheduler": h.runner.Status(),
		"pending":   h.batcher.Pending(),
		"dropped":   h.batcher.Dropped(),
	})
}

// HandleStats serves storage statistics.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
