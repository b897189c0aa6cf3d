package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/tcsched/internal/config"
	"github.com/gyaneshwarpardhi/tcsched/internal/downlink"
	"github.com/gyaneshwarpardhi/tcsched/internal/metrics"
	"github.com/gyaneshwarpardhi/tcsched/internal/pus"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/scheduler"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	svc     *scheduler.Service
	loader  *config.Loader
	emitter *verify.Emitter
	log     *slog.Logger
	root    http.Handler

	limMu   sync.RWMutex
	limiter *rate.Limiter
}

// New creates an HTTP handler and registers all routes. hub may be nil,
// in which case the stream endpoint is not served.
func New(svc *scheduler.Service, loader *config.Loader, hub *downlink.Hub, emitter *verify.Emitter, log *slog.Logger) *Handler {
	h := &Handler{
		svc:     svc,
		loader:  loader,
		emitter: emitter,
		log:     log,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if loader != nil {
		h.SetRateLimit(loader.Config().Server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tc", h.submitTC)
	mux.HandleFunc("GET /v1/schedule", h.getSchedule)
	mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	if hub != nil {
		mux.Handle("GET /v1/stream", hub)
	}
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	h.root = loggingMiddleware(log, mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// SetRateLimit replaces the telecommand intake limit. A zero rate disables it.
func (h *Handler) SetRateLimit(conf config.ServerConf) {
	lim := rate.NewLimiter(rate.Inf, 0)
	if conf.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(conf.RatePerSec), conf.Burst)
	}
	h.limMu.Lock()
	h.limiter = lim
	h.limMu.Unlock()
}

func (h *Handler) allow() bool {
	h.limMu.RLock()
	defer h.limMu.RUnlock()
	return h.limiter.Allow()
}

// tcRequest is a TC[11,x] as submitted over HTTP.
type tcRequest struct {
	Subtype uint8  `json:"subtype"`
	Ack     *uint8 `json:"ack,omitempty"` // default: all stages
	AppData string `json:"app_data"`      // hex
}

type tcResponse struct {
	*scheduler.Outcome
	ReportSubtype uint8  `json:"report_subtype,omitempty"`
	ReportData    string `json:"report_data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// POST /v1/tc: decode, schedule and verify one telecommand.
func (h *Handler) submitTC(w http.ResponseWriter, r *http.Request) {
	if !h.allow() {
		metrics.RequestsThrottled.Inc()
		writeError(w, http.StatusTooManyRequests, "telecommand rate limit exceeded")
		return
	}

	var in tcRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	ack := verify.AckAll
	if in.Ack != nil {
		ack = verify.AckFlags(*in.Ack) & verify.AckAll
	}

	data, err := hex.DecodeString(in.AppData)
	if err != nil {
		h.reject(w, r, ack, verify.CodeMalformed, fmt.Errorf("app_data: %w", err))
		return
	}
	body, err := pus.Decode(in.Subtype, data)
	if err != nil {
		code := verify.CodeMalformed
		if errors.Is(err, pus.ErrUnknownSubtype) {
			code = verify.CodeIllegalSubtype
		}
		h.reject(w, r, ack, code, err)
		return
	}

	env := request.NewEnvelope(ack, body)
	out, err := h.svc.Submit(r.Context(), env)
	switch {
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}

	resp := tcResponse{Outcome: out}
	if out.Report != nil {
		subtype, tm := pus.EncodeReport(*out.Report)
		resp.ReportSubtype = subtype
		resp.ReportData = hex.EncodeToString(tm)
	}
	writeJSON(w, http.StatusOK, resp)
}

// reject reports an acceptance failure for a telecommand that could not be decoded.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, ack verify.AckFlags, code verify.Code, cause error) {
	id := uuid.New().String()
	reports := h.emitter.Reject(r.Context(), id, ack, code)
	metrics.RequestsProcessed.WithLabelValues("undecoded", "rejected").Inc()
	h.log.Debug("telecommand rejected", "request_id", id, "code", code.String(), "err", cause)
	writeJSON(w, http.StatusBadRequest, tcResponse{
		Outcome: &scheduler.Outcome{RequestID: id, Verification: reports},
		Error:   cause.Error(),
	})
}

// GET /v1/schedule: enabled state and a summary of every activity.
func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /v1/config/reload: hot-reload config from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotImplemented, "no config file loaded")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"version":  cfg.Version,
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the request queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.svc.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}
