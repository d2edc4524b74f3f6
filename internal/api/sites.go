package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type newSiteRequest struct {
	URL          string `json:"url" validate:"required,http_url"`
	IntervalSecs *int64 `json:"interval_secs" validate:"omitempty,gte=1,lte=31536000"`
	Style        string `json:"style" validate:"omitempty,oneof=jittered backoff fixed random exponential none"`
}

type historyEntry struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"site_id"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"diff_hash"`
	Size        int       `json:"size"`
}

// listSites handles GET /api/sites.
func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListResources(r.Context())
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	if sites == nil {
		sites = []watch.Resource{}
	}
	writeJSON(w, http.StatusOK, sites)
}

// addSite handles POST /api/sites. interval_secs defaults to the configured
// interval and style to jittered. Duplicate URLs yield 409.
func (s *Server) addSite(w http.ResponseWriter, r *http.Request) {
	var req newSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	res := watch.Resource{
		URL:      req.URL,
		Interval: s.opts.DefaultInterval,
		Policy:   watch.PolicyJittered,
	}
	if req.IntervalSecs != nil {
		res.Interval = watch.Interval(*req.IntervalSecs)
	}
	if req.Style != "" {
		res.Policy = watch.ParsePolicy(req.Style)
	}

	created, err := s.store.AddResource(r.Context(), res)
	if err != nil {
		if errors.Is(err, watch.ErrDuplicate) {
			writeError(w, http.StatusConflict, "site already exists")
			return
		}
		s.logger.Error("add site failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add site")
		return
	}
	s.logger.Info("site added", zap.Int64("site_id", created.ID), zap.String("url", created.URL))
	writeJSON(w, http.StatusCreated, created)
}

// getSite handles GET /api/sites/{id}.
func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	res, err := s.store.GetResource(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "site not found", "failed to load site")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// deleteSite handles DELETE /api/sites/{id}. History goes with the site.
func (s *Server) deleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteResource(r.Context(), id); err != nil {
		s.storeError(w, err, "site not found", "failed to delete site")
		return
	}
	s.logger.Info("site deleted", zap.Int64("site_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// siteHistory handles GET /api/sites/{id}/history, newest first without
// bodies.
func (s *Server) siteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.store.GetResource(r.Context(), id); err != nil {
		s.storeError(w, err, "site not found", "failed to load site")
		return
	}
	records, err := s.store.ListRecords(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "site not found", "failed to load history")
		return
	}
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry{
			ID:          rec.ID,
			SiteID:      rec.ResourceID,
			Timestamp:   rec.FetchedAt,
			Fingerprint: rec.Fingerprint,
			Size:        len(rec.Body),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// content handles GET /api/content/{site_id}/{timestamp}. The timestamp is
// RFC 3339 and matches the fetch within the same second.
func (s *Server) content(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "site_id")
	if !ok {
		return
	}
	at, err := time.Parse(time.RFC3339Nano, chi.URLParam(r, "timestamp"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
		return
	}
	rec, err := s.store.RecordAt(r.Context(), id, at)
	if err != nil {
		s.storeError(w, err, "content not found", "failed to load content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": rec.Body})
}

func (s *Server) storeError(w http.ResponseWriter, err error, notFound, internal string) {
	if errors.Is(err, watch.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error(internal, zap.Error(err))
	writeError(w, http.StatusInternalServerError, internal)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "URL":
		return "url must be an http(s) URL"
	case "IntervalSecs":
		field = "interval_secs"
	case "Style":
		field = "style"
	}
	return field + " is invalid (" + fe.Tag() + ")"
}
