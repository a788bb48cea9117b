// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kundajelab/cultivator/internal/audit"
	"github.com/kundajelab/cultivator/internal/cache"
	"github.com/kundajelab/cultivator/internal/log"
	"github.com/kundajelab/cultivator/internal/manifest"
	"github.com/kundajelab/cultivator/internal/metrics"
	"github.com/kundajelab/cultivator/internal/registry"
)

// maxManifestBody bounds the request body; manifests are small.
const maxManifestBody = 1 << 20

type publishResponse struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Digest      string    `json:"digest"`
	ReceiptID   string    `json:"receiptId"`
	Created     bool      `json:"created"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := s.clientIP(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxManifestBody)
	m, err := manifest.Decode(r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, manifest.ErrUnsupportedContentType) {
			metrics.IncPublish("unsupported_media_type")
			writeError(w, http.StatusUnsupportedMediaType, "content type must be JSON or YAML")
			return
		}
		metrics.IncPublish("malformed")
		writeError(w, http.StatusBadRequest, "malformed manifest: "+err.Error())
		return
	}

	if err := m.Validate(); err != nil {
		metrics.IncPublish("invalid")
		metrics.IncValidationError()
		s.audit.Publish(ctx, audit.EventPublishReject, "api", ip, m.Name, m.Version,
			map[string]string{"reason": err.Error()})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, created, err := s.store.Publish(ctx, m)
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			metrics.IncPublish("conflict")
			s.audit.Publish(ctx, audit.EventPublishReject, "api", ip, m.Name, m.Version,
				map[string]string{"reason": "digest mismatch"})
			writeError(w, http.StatusConflict, "version already published with different content")
			return
		}
		s.internalError(w, r, "publish", err)
		return
	}

	s.cache.Invalidate(cache.Key(m.Name, m.Version))
	s.recordPackageCount(r)
	if s.exportJob != nil {
		s.exportJob.Trigger()
	}

	status := http.StatusOK
	eventType := audit.EventPublishReplay
	outcome := "replay"
	if created {
		status = http.StatusCreated
		eventType = audit.EventPublishSuccess
		outcome = "success"
	}
	metrics.IncPublish(outcome)
	s.audit.Publish(ctx, eventType, "api", ip, m.Name, m.Version,
		map[string]string{"digest": rec.Digest})

	writeJSON(w, status, publishResponse{
		Name:        rec.Manifest.Name,
		Version:     rec.Manifest.Version,
		Digest:      rec.Digest,
		ReceiptID:   rec.ReceiptID,
		Created:     created,
		PublishedAt: rec.PublishedAt,
	})
}

type listResponse struct {
	Count    int      `json:"count"`
	Packages []string `json:"packages"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(names), Packages: names})
}

type summaryResponse struct {
	Name          string                 `json:"name"`
	LatestVersion string                 `json:"latestVersion,omitempty"`
	Versions      []registry.VersionInfo `json:"versions"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := manifest.CanonicalName(chi.URLParam(r, "name"))

	versions, err := s.store.Versions(ctx, name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "package not found")
			return
		}
		s.internalError(w, r, "versions", err)
		return
	}

	resp := summaryResponse{Name: name, Versions: versions}
	if latest, err := s.store.Latest(ctx, name); err == nil {
		resp.LatestVersion = latest.Manifest.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := manifest.CanonicalName(chi.URLParam(r, "name"))
	version := manifest.CanonicalVersion(chi.URLParam(r, "version"))
	includeYanked := r.URL.Query().Get("yanked") == "true"

	key := cache.Key(name, version)
	rec, hit := s.cache.Get(key)
	metrics.IncCacheLookup(hit)
	if !hit {
		var err error
		rec, err = s.store.Get(ctx, name, version)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				metrics.IncFetch("not_found")
				writeError(w, http.StatusNotFound, "version not found")
				return
			}
			s.internalError(w, r, "get", err)
			return
		}
		if !rec.Yanked {
			s.cache.Set(key, rec, s.holder.Current().CacheTTL)
		}
	}

	if rec.Yanked && !includeYanked {
		metrics.IncFetch("yanked")
		writeError(w, http.StatusGone, "version has been yanked")
		return
	}

	metrics.IncFetch("success")
	writeJSON(w, http.StatusOK, rec)
}

type resolveResponse struct {
	Name       string            `json:"name"`
	Constraint string            `json:"constraint"`
	Version    string            `json:"version"`
	Digest     string            `json:"digest"`
	Manifest   manifest.Manifest `json:"manifest"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := manifest.CanonicalName(chi.URLParam(r, "name"))
	constraint := r.URL.Query().Get("constraint")
	if constraint == "" {
		metrics.IncResolve("malformed")
		writeError(w, http.StatusBadRequest, "missing constraint query parameter")
		return
	}

	if _, err := manifest.ParseConstraint(constraint); err != nil {
		metrics.IncResolve("malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := registry.Resolve(ctx, s.store, name, constraint)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.IncResolve("unsatisfied")
			writeError(w, http.StatusNotFound, "no version satisfies constraint")
			return
		}
		s.internalError(w, r, "resolve", err)
		return
	}

	metrics.IncResolve("success")
	writeJSON(w, http.StatusOK, resolveResponse{
		Name:       name,
		Constraint: constraint,
		Version:    rec.Manifest.Version,
		Digest:     rec.Digest,
		Manifest:   rec.Manifest,
	})
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := manifest.CanonicalName(chi.URLParam(r, "name"))
	version := manifest.CanonicalVersion(chi.URLParam(r, "version"))

	if err := s.store.Yank(ctx, name, version); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.IncYank("not_found")
			writeError(w, http.StatusNotFound, "version not found")
			return
		}
		s.internalError(w, r, "yank", err)
		return
	}

	s.cache.Invalidate(cache.Key(name, version))
	if s.exportJob != nil {
		s.exportJob.Trigger()
	}

	metrics.IncYank("success")
	s.audit.Yank(ctx, "api", s.clientIP(r), name, version)
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptimeSeconds"`
	Packages      int         `json:"packages"`
	Cache         cache.Stats `json:"cache"`
	Time          time.Time   `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.internalError(w, r, "status", err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:       s.holder.Current().Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Packages:      count,
		Cache:         s.cache.Stats(),
		Time:          time.Now().UTC(),
	})
}

type auditRecentResponse struct {
	Count  int           `json:"count"`
	Events []audit.Event `json:"events"`
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "audit_recent", err)
		return
	}
	writeJSON(w, http.StatusOK, auditRecentResponse{Count: len(events), Events: events})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log.WithComponentFromContext(r.Context(), "api").Error().
		Err(err).
		Str("op", op).
		Str(log.FieldPath, r.URL.Path).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) recordPackageCount(r *http.Request) {
	if count, err := s.store.Count(r.Context()); err == nil {
		metrics.RecordPackagesCount(count)
	}
}
