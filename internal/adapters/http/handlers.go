package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

const (
	maxJSONBody = 1 << 20
	maxPDFBody  = 512 << 20

	tileCacheControl = "public, max-age=86400"
	busyRetryAfter   = 5 * time.Second
)

// handleTile serves one PNG tile. ?prefetch=true marks the request as
// off-screen so it is queued behind visible tiles.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	z, errZ := strconv.Atoi(vars["z"])
	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])
	if errZ != nil || errX != nil || errY != nil {
		s.writeError(w, http.StatusBadRequest, "Tile coordinates must be integers")
		return
	}
	visible := r.URL.Query().Get("prefetch") != "true"

	data, err := s.svc.Tiles.GetTile(r.Context(), vars["basemap"], z, x, y, visible)
	if err != nil {
		if errors.Is(err, domain.ErrBasemapBusy) {
			w.Header().Set("Retry-After", retryAfterSeconds(busyRetryAfter))
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", tileCacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.svc.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":              boolToStatus(details.Healthy),
		"ready":               details.Ready,
		"basemaps_total":      details.BasemapsTotal,
		"basemaps_ready":      details.BasemapsReady,
		"downloads_queued":    details.DownloadsQueued,
		"downloads_in_flight": details.DownloadsInFlight,
		"open_stores":         details.OpenStores,
		"components":          details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListBasemaps returns all registered basemaps.
func (s *Server) handleListBasemaps(w http.ResponseWriter, r *http.Request) {
	basemaps, err := s.svc.Basemaps.List(r.Context())
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"basemaps": basemaps,
		"count":    len(basemaps),
	})
}

// handleRegisterBasemap registers a remote basemap.
func (s *Server) handleRegisterBasemap(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	b, err := s.svc.Basemaps.Register(r.Context(), req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/basemaps/"+b.ID)
	s.writeJSON(w, http.StatusCreated, b)
}

// handleGetBasemap returns a specific basemap.
func (s *Server) handleGetBasemap(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Basemaps.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, b)
}

// handleDeleteBasemap removes a basemap and its tiles.
func (s *Server) handleDeleteBasemap(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Basemaps.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// importBody is the JSON body of an import request.
type importBody struct {
	Source  string            `json:"source"`
	Name    string            `json:"name,omitempty"`
	Bounds  *domain.GeoBounds `json:"bounds,omitempty"`
	MinZoom *int              `json:"min_zoom,omitempty"`
	MaxZoom *int              `json:"max_zoom,omitempty"`
}

// handleImport starts a PDF import. A JSON body names a key in object
// storage or the import directory; an application/pdf body is the document
// itself.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if isPDFUpload(r) {
		s.handleUpload(w, r, id)
		return
	}

	var body importBody
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Source) == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	source, err := domain.CleanSourceKey(body.Source)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	opts := application.ImportOptions{
		Name:    body.Name,
		Bounds:  body.Bounds,
		MinZoom: body.MinZoom,
		MaxZoom: body.MaxZoom,
	}
	b, err := s.svc.Basemaps.ImportSource(r.Context(), id, source, opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/basemaps/"+b.ID)
	s.writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	opts := application.ImportOptions{Name: q.Get("name")}
	var err error
	if opts.MinZoom, err = optionalInt(q.Get("min_zoom")); err != nil {
		s.writeError(w, http.StatusBadRequest, "min_zoom must be an integer")
		return
	}
	if opts.MaxZoom, err = optionalInt(q.Get("max_zoom")); err != nil {
		s.writeError(w, http.StatusBadRequest, "max_zoom must be an integer")
		return
	}

	pdf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPDFBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "PDF exceeds upload limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	b, err := s.svc.Basemaps.ImportPDF(r.Context(), id, "upload", pdf, opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/basemaps/"+b.ID)
	s.writeJSON(w, http.StatusAccepted, b)
}

// handleCacheInfo returns stored tile statistics.
func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Tiles.CacheInfo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

// handleClearCache removes every stored tile of a basemap.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.svc.Tiles.ClearCache(r.Context(), id)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"basemap_id": id,
		"removed":    n,
	})
}

// handleEvictCache removes tiles not accessed within ?older_than.
func (s *Server) handleEvictCache(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	age, err := domain.ParseAge(r.URL.Query().Get("older_than"))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	n, err := s.svc.Tiles.EvictOlderThan(r.Context(), id, age)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"basemap_id": id,
		"older_than": age.String(),
		"removed":    n,
	})
}

// offlineBody is the JSON body of offline download and estimate requests.
type offlineBody struct {
	Bounds      *domain.GeoBounds `json:"bounds,omitempty"`
	MinZoom     int               `json:"min_zoom"`
	MaxZoom     int               `json:"max_zoom"`
	URLTemplate string            `json:"url_template,omitempty"`
}

// offlineRequest fills the request from the basemap's template and bounds
// where the body leaves them out. A template other than the basemap's own
// is rejected.
func (s *Server) offlineRequest(w http.ResponseWriter, r *http.Request) (application.OfflineAreaRequest, bool) {
	var body offlineBody
	if !s.decodeJSON(w, r, &body) {
		return application.OfflineAreaRequest{}, false
	}

	b, err := s.svc.Basemaps.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return application.OfflineAreaRequest{}, false
	}
	if !b.IsRemote() {
		s.writeError(w, http.StatusBadRequest, "Offline downloads need a remote basemap")
		return application.OfflineAreaRequest{}, false
	}

	template, err := b.DownloadTemplate(body.URLTemplate)
	if err != nil {
		s.handleServiceError(w, err)
		return application.OfflineAreaRequest{}, false
	}

	req := application.OfflineAreaRequest{
		BasemapID:   b.ID,
		URLTemplate: template,
		MinZoom:     body.MinZoom,
		MaxZoom:     body.MaxZoom,
	}
	switch {
	case body.Bounds != nil:
		req.Bounds = *body.Bounds
	case b.Bounds != nil:
		req.Bounds = *b.Bounds
	default:
		s.writeError(w, http.StatusBadRequest, "bounds are required")
		return application.OfflineAreaRequest{}, false
	}
	return req, true
}

// handleStartOffline starts a background offline download job.
func (s *Server) handleStartOffline(w http.ResponseWriter, r *http.Request) {
	req, ok := s.offlineRequest(w, r)
	if !ok {
		return
	}

	job, err := s.svc.Jobs.Start(req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleEstimateOffline estimates tile count and size of an offline area.
func (s *Server) handleEstimateOffline(w http.ResponseWriter, r *http.Request) {
	if s.svc.Estimator == nil {
		s.writeError(w, http.StatusNotFound, "Size estimation not available")
		return
	}
	req, ok := s.offlineRequest(w, r)
	if !ok {
		return
	}

	est, err := s.svc.Estimator.EstimateSize(r.Context(), req)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, est)
}

// handleListJobs returns all offline jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.svc.Jobs.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns one job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// handleCancelJob asks a job to stop.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Jobs.Cancel(id); err != nil {
		s.handleServiceError(w, err)
		return
	}

	job, err := s.svc.Jobs.Get(id)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// handleDownloadStats returns the download manager counters.
func (s *Server) handleDownloadStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Downloads.Stats())
}

// handleResetDownloadStats zeroes the cumulative download counters.
func (s *Server) handleResetDownloadStats(w http.ResponseWriter, _ *http.Request) {
	s.svc.Downloads.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			wait := retryAfterSeconds(s.svc.Sync.Cooldown())
			w.Header().Set("Retry-After", wait)
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in "+wait+" seconds.")
			return
		}
		s.logger.Error("sync failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the API description.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := openAPIDocument()
	if err != nil {
		s.logger.Error("failed to load OpenAPI document", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to load API description")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// handleServiceError maps domain errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrBasemapExists), errors.Is(err, domain.ErrBasemapBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}

func isPDFUpload(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/pdf")
}

func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// retryAfterSeconds formats d for a Retry-After header.
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Round(time.Second) / time.Second))
}
