// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/tierbuf/lib/engine"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// Source is the engine surface the inspection routes read.
// *engine.Engine implements it.
type Source interface {
	PollTargetMetadata(pattern string, maxCount int) ([]target.Info, error)
	PollTagMetadata(pattern string, maxCount int) ([]engine.TagInfo, error)
	PollBlobMetadata(pattern string, maxCount int) ([]engine.BlobInfo, error)
	PollAccessPattern(lastID uint64) ([]engine.IoStat, uint64)
	Tag(id ident.TagID) (engine.TagInfo, error)
	Blob(ref engine.BlobRef) (engine.BlobInfo, error)
}

const (
	routeNameTargets = "targets"
	routeNameTags    = "tags"
	routeNameTag     = "tag"
	routeNameBlobs   = "blobs"
	routeNameBlob    = "blob"
	routeNameAccess  = "access"
	routeNameMetrics = "metrics"
)

// idPattern matches the "node.hash.unique" text form of an identifier.
const idPattern = `{id:[0-9]+\.[0-9]+\.[0-9]+}`

// AccessPage is the body of /v1/access.
type AccessPage struct {
	Entries []engine.IoStat `json:"entries"`
	// Next is the last_id to pass on the following poll.
	Next uint64 `json:"next"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the inspection routes.
type Handler struct {
	source Source
	logger *slog.Logger
	router *mux.Router
}

// NewHandler builds the router. gatherer backs /metrics; nil uses the
// default Prometheus registry.
func NewHandler(source Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{source: source, logger: logger}

	router := mux.NewRouter().StrictSlash(true)
	router.Path("/v1/targets").Methods(http.MethodGet).Name(routeNameTargets).HandlerFunc(h.targets)
	router.Path("/v1/tags").Methods(http.MethodGet).Name(routeNameTags).HandlerFunc(h.tags)
	router.Path("/v1/tags/" + idPattern).Methods(http.MethodGet).Name(routeNameTag).HandlerFunc(h.tag)
	router.Path("/v1/blobs").Methods(http.MethodGet).Name(routeNameBlobs).HandlerFunc(h.blobs)
	router.Path("/v1/blobs/" + idPattern).Methods(http.MethodGet).Name(routeNameBlob).HandlerFunc(h.blob)
	router.Path("/v1/access").Methods(http.MethodGet).Name(routeNameAccess).HandlerFunc(h.access)
	router.Path("/metrics").Methods(http.MethodGet).Name(routeNameMetrics).
		Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	h.router = router
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// URL returns the path of a named route, for clients and tests.
func (h *Handler) URL(name string, pairs ...string) (string, error) {
	route := h.router.Get(name)
	if route == nil {
		return "", errors.New("inspect: unknown route " + name)
	}
	url, err := route.URLPath(pairs...)
	if err != nil {
		return "", err
	}
	return url.Path, nil
}

// filter reads the pattern and max query parameters.
func filter(r *http.Request) (string, int, error) {
	query := r.URL.Query()
	maxCount := 0
	if text := query.Get("max"); text != "" {
		parsed, err := strconv.Atoi(text)
		if err != nil || parsed < 0 {
			return "", 0, errors.New("max must be a non-negative integer")
		}
		maxCount = parsed
	}
	return query.Get("pattern"), maxCount, nil
}

func (h *Handler) targets(w http.ResponseWriter, r *http.Request) {
	pattern, maxCount, err := filter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	targets, err := h.source.PollTargetMetadata(pattern, maxCount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, targets)
}

func (h *Handler) tags(w http.ResponseWriter, r *http.Request) {
	pattern, maxCount, err := filter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tags, err := h.source.PollTagMetadata(pattern, maxCount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, tags)
}

func (h *Handler) tag(w http.ResponseWriter, r *http.Request) {
	id, err := ident.ParseTagID(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := h.source.Tag(id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, info)
}

func (h *Handler) blobs(w http.ResponseWriter, r *http.Request) {
	pattern, maxCount, err := filter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blobs, err := h.source.PollBlobMetadata(pattern, maxCount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, blobs)
}

func (h *Handler) blob(w http.ResponseWriter, r *http.Request) {
	id, err := ident.ParseBlobID(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := h.source.Blob(engine.BlobRef{ID: id})
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, info)
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) {
	var lastID uint64
	if text := r.URL.Query().Get("last_id"); text != "" {
		parsed, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "last_id must be a non-negative integer")
			return
		}
		lastID = parsed
	}
	entries, next := h.source.PollAccessPattern(lastID)
	if entries == nil {
		entries = []engine.IoStat{}
	}
	h.writeJSON(w, AccessPage{Entries: entries, Next: next})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrTagNotFound) || errors.Is(err, engine.ErrBlobNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Debug("writing inspection response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: message}); err != nil {
		h.logger.Debug("writing inspection error failed", "error", err)
	}
}
