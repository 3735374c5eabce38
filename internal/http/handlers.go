package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisor/internal/lifecycle"
	"github.com/kjstillabower/crop-advisor/internal/models"
	"github.com/kjstillabower/crop-advisor/internal/observability"
	"github.com/kjstillabower/crop-advisor/internal/service"
	"github.com/kjstillabower/crop-advisor/internal/traffic"
)

// HealthConfig holds what the health handler evaluates.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// APIKeyConfigured reports whether a weather API key is currently set.
	APIKeyConfigured func() bool
	// CachePing, when set, checks cache reachability (memcached backend).
	CachePing func() error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	crop             *service.CropService
	weather          *service.WeatherService
	renderer         *Renderer
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(
	crop *service.CropService,
	weather *service.WeatherService,
	renderer *Renderer,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		crop:         crop,
		weather:      weather,
		renderer:     renderer,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// Crop handles GET and POST /. Failures are shown in place of the
// prediction; the status stays 200.
func (h *Handler) Crop(w http.ResponseWriter, r *http.Request) {
	page := PageData{ActiveTab: TabCrop}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			page.Prediction = models.Prediction{Error: err.Error()}.Display()
		} else {
			in, pred := h.crop.Recommend(r.Context(), r.PostForm)
			page.FormData = in
			page.Prediction = pred.Display()
		}
	}
	h.render(w, r, page)
}

// Weather handles GET and POST /weather. The crop form on this page is
// always empty.
func (h *Handler) Weather(w http.ResponseWriter, r *http.Request) {
	page := PageData{ActiveTab: TabWeather}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			page.WeatherError = service.MsgGeneric
		} else {
			page.City = r.PostForm.Get("city")
			result, err := h.weather.Lookup(r.Context(), page.City)
			if err != nil {
				page.WeatherError = service.WeatherErrorMessage(err)
			} else {
				page.Weather = &result
			}
		}
	}
	h.render(w, r, page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page PageData) {
	var buf bytes.Buffer
	if err := h.renderer.Render(&buf, page); err != nil {
		observability.LoggerFromContext(r.Context()).Error("render page", zap.String("tab", page.ActiveTab), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"classifier": "loaded",
		"weatherApi": "healthy",
	}
	if result.reason == "error_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.APIKeyConfigured != nil {
			checks["weatherApiKey"] = "missing"
			if h.healthConfig.APIKeyConfigured() {
				checks["weatherApiKey"] = "configured"
			}
		}
		if h.healthConfig.CachePing != nil {
			checks["cache"] = "healthy"
			if err := h.healthConfig.CachePing(); err != nil {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "crop-advisor",
		"version":   version,
		"checks":    checks,
		"uptime":    lifecycle.Uptime().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, degraded, healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		if traffic.Degraded(h.healthConfig.DegradedWindow, float64(h.healthConfig.DegradedErrorPct)) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
