package http

import (
	"errors"
	"net/http"
	"strconv"

	"maenroll/internal/aggregate"
	"maenroll/internal/core"
	"maenroll/internal/enrich"
	applog "maenroll/internal/log"
	"maenroll/internal/query"
)

// EnrichmentReporter exposes the parent organization load outcome.
// *worker.Refresher satisfies it.
type EnrichmentReporter interface {
	EnrichmentStatus() enrich.Status
}

// Handler serves the read-only dashboard API over a query service.
type Handler struct {
	svc        *query.Service
	enrichment EnrichmentReporter
}

// NewHandler builds a Handler. enrichment may be nil.
func NewHandler(svc *query.Service, enrichment EnrichmentReporter) *Handler {
	return &Handler{svc: svc, enrichment: enrichment}
}

// HealthDTO is the /healthz payload.
type HealthDTO struct {
	Status     string         `json:"status"`
	Version    uint64         `json:"version"`
	Periods    int            `json:"periods"`
	Latest     core.PeriodKey `json:"latest,omitempty"`
	Enrichment *enrich.Status `json:"enrichment,omitempty"`
}

// TimelineDTO lists the periods present in a working set.
type TimelineDTO struct {
	Timeline []core.PeriodKey `json:"timeline"`
}

// TimeSeriesDTO carries the monthly series in ascending order and the MoM
// table, the same points newest first.
type TimeSeriesDTO struct {
	Points   []aggregate.Point `json:"points"`
	MoMTable []aggregate.Point `json:"mom_table"`
}

// MixDTO carries the latest period's shares per group.
type MixDTO struct {
	GroupBy []core.Dimension  `json:"group_by"`
	Shares  []aggregate.Share `json:"shares"`
}

// SummaryDTO wraps a comparison with the grouping it was built for.
type SummaryDTO struct {
	GroupBy []core.Dimension `json:"group_by"`
	Compare string           `json:"compare"`
	aggregate.Comparison
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	timeline := h.svc.Timeline(core.FilterSpec{})
	dto := HealthDTO{Status: "ok", Version: h.svc.Version(), Periods: len(timeline)}
	if len(timeline) > 0 {
		dto.Latest = timeline[len(timeline)-1]
	}
	if h.enrichment != nil {
		status := h.enrichment.EnrichmentStatus()
		dto.Enrichment = &status
	}
	h.respond(w, dto)
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	h.respond(w, TimelineDTO{Timeline: h.svc.Timeline(spec)})
}

func (h *Handler) KPIs(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	h.respond(w, h.svc.KPIs(spec))
}

// Summary groups by group_by (default state) and compares the latest period
// against the previous (compare=mom) or year-ago (compare=yoy) period.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	dims, err := ParseGroupBy(q, core.DimState)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	top, err := ParseTop(q, 0)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	kind := sanitizeInput(q.Get(ParamCompare))
	if kind == "" {
		kind = query.CompareMoM
	}

	c, err := h.svc.Summarize(spec, dims, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c.Summaries = aggregate.Top(c.Summaries, top)
	h.respond(w, SummaryDTO{GroupBy: dims, Compare: kind, Comparison: c})
}

// Movers ranks groups by absolute month-over-month change.
func (h *Handler) Movers(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	dims, err := ParseGroupBy(q, core.DimContract)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	top, err := ParseTop(q, 10)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	c, err := h.svc.Movers(spec, dims, top)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, SummaryDTO{GroupBy: dims, Compare: query.CompareMoM, Comparison: c})
}

func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	points, err := h.svc.TimeSeries(spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, TimeSeriesDTO{Points: points, MoMTable: aggregate.NewestFirst(points)})
}

// Options lists filter picker values; counties follow the states parameter.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.Options(parseList(r.URL.Query(), ParamStates, true)...))
}

// Mix reports the latest period's share per group, plan type by default.
func (h *Handler) Mix(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.filter(w, r)
	if !ok {
		return
	}
	dims, err := ParseGroupBy(r.URL.Query(), core.DimPlanType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	shares, err := h.svc.Mix(spec, dims)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, MixDTO{GroupBy: dims, Shares: shares})
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) (core.FilterSpec, bool) {
	spec, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return core.FilterSpec{}, false
	}
	return spec, true
}

func (h *Handler) respond(w http.ResponseWriter, v any) {
	NewJSONResponse().
		Header("X-Dataset-Version", strconv.FormatUint(h.svc.Version(), 10)).
		Data(v).
		Write(w)
}

// fail maps domain errors to client errors and logs the rest.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidPeriod), errors.Is(err, core.ErrUnknownDimension), errors.Is(err, query.ErrUnknownComparison):
		BadRequestError(err.Error()).Write(w)
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Query failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		InternalServerError("internal error").Write(w)
	}
}
