package server

import (
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"tunevault/core/audio"
	"tunevault/core/ingest"
	"tunevault/core/playback"
	"tunevault/logger"
	"tunevault/metrics"
	"tunevault/repository"
	"tunevault/storage"

	"github.com/gorilla/mux"
)

// PrincipalHeader carries the owner of a verified track back to the proxy.
const PrincipalHeader = "X-Principal-Id"

// OriginalURIHeader is where nginx auth_request puts the proxied request URI.
const OriginalURIHeader = "X-Original-URI"

type playbackURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PlaybackURLHandler 签发带令牌的播放地址
func (h *APIHandler) PlaybackURLHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]

	track, err := h.trackRepo.GetTrackByID(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to load track", logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !track.Streamable() {
		http.Error(w, "Track has no stream", http.StatusConflict)
		return
	}

	url, exp, err := h.issuer.PlaybackURL(trackID)
	if err != nil {
		logger.Error("failed to issue playback token", logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, playbackURLResponse{URL: url, ExpiresAt: exp.UTC()})
}

// verifyStatus maps a verification error onto the proxy contract.
func verifyStatus(err error) (int, string) {
	switch {
	case errors.Is(err, playback.ErrMalformedURI):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, playback.ErrMissingToken):
		return http.StatusUnauthorized, "missing"
	case errors.Is(err, playback.ErrExpiredToken):
		return http.StatusForbidden, "expired"
	case errors.Is(err, playback.ErrSubjectMismatch):
		return http.StatusForbidden, "mismatch"
	default:
		return http.StatusForbidden, "invalid"
	}
}

// resolveOwner returns the owner of a verified track, or writes 403 when the
// track is gone and 500 on lookup failure.
func (h *APIHandler) resolveOwner(w http.ResponseWriter, r *http.Request, trackID string) (string, bool) {
	owner, err := h.owners.OwnerOf(r.Context(), trackID)
	if err == nil {
		return owner, true
	}
	if errors.Is(err, repository.ErrNotFound) {
		metrics.PlaybackVerifications.WithLabelValues("gone").Inc()
		http.Error(w, "Forbidden", http.StatusForbidden)
		return "", false
	}
	logger.Error("owner lookup failed", logger.String("trackId", trackID), logger.ErrorField(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
	return "", false
}

// VerifyPlaybackHandler is the auth_request target of the fronting proxy. The
// request URI comes from X-Original-URI, or from the uri query parameter.
func (h *APIHandler) VerifyPlaybackHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(OriginalURIHeader)
	if raw == "" {
		raw = r.URL.Query().Get("uri")
	}

	trackID, err := h.verifier.VerifyURI(raw)
	if err != nil {
		status, result := verifyStatus(err)
		metrics.PlaybackVerifications.WithLabelValues(result).Inc()
		logger.Debug("playback verification rejected", logger.String("uri", raw), logger.ErrorField(err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	owner, ok := h.resolveOwner(w, r, trackID)
	if !ok {
		return
	}
	metrics.PlaybackVerifications.WithLabelValues("ok").Inc()
	w.Header().Set(PrincipalHeader, owner)
	w.WriteHeader(http.StatusOK)
}

// StreamFileHandler serves a manifest or segment after the same token check
// the proxy would run. Manifest entries are rewritten to carry the token.
func (h *APIHandler) StreamFileHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trackID, file := vars["trackId"], vars["file"]
	token := r.URL.Query().Get("token")

	if file == "." || file == ".." {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.verifier.Verify(token, trackID); err != nil {
		status, result := verifyStatus(err)
		metrics.PlaybackVerifications.WithLabelValues(result).Inc()
		http.Error(w, http.StatusText(status), status)
		return
	}
	owner, ok := h.resolveOwner(w, r, trackID)
	if !ok {
		return
	}

	key := ingest.StreamPrefix(owner, trackID) + file
	body, err := h.store.GetRange(r.Context(), key, 0, -1)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to read stream file", logger.String("key", key), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, newStoreErrorBody("Failed to read stream", err))
		return
	}
	defer body.Close()

	w.Header().Set(PrincipalHeader, owner)
	w.Header().Set("Cache-Control", "private, no-store")
	if file == audio.PlaylistName {
		manifest, err := io.ReadAll(body)
		if err != nil {
			logger.Error("failed to read manifest", logger.String("key", key), logger.ErrorField(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(playback.RewriteManifest(manifest, token))
		return
	}

	if path.Ext(file) == ".ts" {
		w.Header().Set("Content-Type", "video/mp2t")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.Debug("segment copy interrupted", logger.String("key", key), logger.ErrorField(err))
	}
}
