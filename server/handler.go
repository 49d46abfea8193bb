package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Co-Epi/coepi-core/distribution"
	"github.com/Co-Epi/coepi-core/protocol"
)

// Handler serves the report distribution HTTP API.
type Handler struct {
	cfg   *protocol.TraceConfig
	store ReportStore
	log   *slog.Logger

	// now is swappable so tests can pin the arrival interval.
	now func() time.Time
}

// NewHandler creates the HTTP handler over the given report store.
func NewHandler(cfg *protocol.TraceConfig, store ReportStore, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, store: store, log: log, now: time.Now}
}

// SetClock overrides the handler's time source. Tests use it to pin the
// arrival interval.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// RegisterRoutes registers the report distribution endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/reports", h.postReport)
	r.Get("/reports", h.getReports)
}

func (h *Handler) postReport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := protocol.DecodeMessage[protocol.SignedReport](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	// The service stores nothing it could not reconstruct from the signed
	// blob, but it still rejects garbage so clients never download it.
	report, _, err := signed.Recover()
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid report signature: %v", err), http.StatusBadRequest)
		return
	}
	if err := report.Validate(h.cfg.MaxSegmentLength()); err != nil {
		http.Error(w, fmt.Sprintf("Invalid report: %v", err), http.StatusBadRequest)
		return
	}

	interval := protocol.IntervalForTime(h.now(), h.cfg.IntervalLength)
	reportID := protocol.ReportID(signed)
	if err := h.store.SaveReport(r.Context(), interval, reportID, signed); err != nil {
		h.log.Error("saving report", "err", err)
		http.Error(w, "Failed to store report", http.StatusInternalServerError)
		return
	}

	h.log.Info("report stored", "reportId", reportID, "interval", interval.Number)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "success",
		"report_id": reportID,
	})
}

func (h *Handler) getReports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	interval, err := distribution.ParseIntervalQuery(query.Get("intervalNumber"), query.Get("intervalLength"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid interval: %v", err), http.StatusBadRequest)
		return
	}
	if interval.Length != h.cfg.IntervalLength {
		http.Error(w, fmt.Sprintf("Unsupported interval length %d", interval.Length), http.StatusBadRequest)
		return
	}

	reports, err := h.store.ReportsForInterval(r.Context(), interval)
	if err != nil {
		h.log.Error("loading reports", "interval", interval.Number, "err", err)
		http.Error(w, "Failed to load reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []*protocol.SignedReport{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(distribution.ReportList{Reports: reports})
}
