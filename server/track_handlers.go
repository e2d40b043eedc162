package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"tunevault/core/byterange"
	"tunevault/core/filename"
	"tunevault/core/ingest"
	"tunevault/logger"
	"tunevault/metrics"
	"tunevault/model"
	"tunevault/repository"
	"tunevault/storage"

	"github.com/gorilla/mux"
)

// multipartMemory is how much of a multipart body stays in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

type trackPage struct {
	Tracks []*model.Track `json:"tracks"`
	Skip   int            `json:"skip"`
	Limit  int            `json:"limit"`
}

// UploadTrackHandler 处理上传：单个音频文件或压缩包，可多个
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())

	select {
	case h.uploadSlots <- struct{}{}:
		defer func() { <-h.uploadSlots }()
	case <-r.Context().Done():
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn("[Upload] 解析表单失败", logger.ErrorField(err))
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	uploads, files, err := openUploads(headers)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	if err != nil {
		logger.Error("[Upload] 打开上传文件失败", logger.ErrorField(err))
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	req := ingest.Request{
		Principal: p,
		TargetDir: r.FormValue("path"),
		Uploads:   uploads,
	}
	stored, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("[Upload] 客户端已断开", logger.String("principalId", p.ID), logger.Int("stored", len(stored)))
			return
		}
		logger.Error("[Upload] 存储失败",
			logger.String("principalId", p.ID),
			logger.Int("stored", len(stored)),
			logger.ErrorField(err))
		body := newStoreErrorBody("Failed to store upload", err)
		body.Tracks = stored
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	if stored == nil {
		stored = []model.Track{}
	}
	logger.Info("[Upload] 上传完成", logger.String("principalId", p.ID), logger.Int("stored", len(stored)))
	writeJSON(w, http.StatusOK, stored)
}

// openUploads opens every part. The returned files must be closed even when
// an error is returned.
func openUploads(headers []*multipart.FileHeader) ([]ingest.Upload, []multipart.File, error) {
	uploads := make([]ingest.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, files, err
		}
		files = append(files, f)
		uploads = append(uploads, ingest.Upload{
			Name: filename.Normalize(fh.Filename),
			Src:  f,
			Size: fh.Size,
		})
	}
	return uploads, files, nil
}

// GetTracksHandler lists the caller's tracks, paged, optionally filtered.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	q := repository.ListQuery{
		Skip:   queryInt(r, "skip"),
		Limit:  queryInt(r, "limit"),
		Search: r.URL.Query().Get("search"),
	}

	tracks, err := h.trackRepo.ListTracksByOwner(r.Context(), p.ID, q)
	if err != nil {
		logger.Error("failed to list tracks", logger.String("principalId", p.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = repository.DefaultPageSize
	case limit > repository.MaxPageSize:
		limit = repository.MaxPageSize
	}
	writeJSON(w, http.StatusOK, trackPage{Tracks: tracks, Skip: max(q.Skip, 0), Limit: limit})
}

// TrackContentHandler streams a track's original bytes, honouring Range.
func (h *APIHandler) TrackContentHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	track := h.loadOwnedTrack(w, r, p, mux.Vars(r)["id"])
	if track == nil {
		return
	}

	plan := byterange.PlanRead(r.Header.Get("Range"), track.SizeBytes)
	body, err := h.store.GetRange(r.Context(), track.BlobKey, plan.Start, plan.ReadEnd())
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			logger.Error("track blob missing", logger.String("trackId", track.ID), logger.String("key", track.BlobKey))
			http.Error(w, "Track content not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to read track blob", logger.String("trackId", track.ID), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, newStoreErrorBody("Failed to read track content", err))
		return
	}
	defer body.Close()

	kind := "full"
	if plan.Partial {
		kind = "partial"
	}
	metrics.RangeRequests.WithLabelValues(kind).Inc()

	plan.WriteHeader(w, track.MimeType)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		logger.Debug("content copy interrupted", logger.String("trackId", track.ID), logger.ErrorField(err))
	}
}

// DeleteTrackHandler removes the row first so nothing points at a missing
// blob, then removes the blobs best-effort.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	track := h.loadOwnedTrack(w, r, p, mux.Vars(r)["id"])
	if track == nil {
		return
	}

	if err := h.trackRepo.DeleteTrack(r.Context(), track.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to delete track row", logger.String("trackId", track.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := h.owners.Invalidate(ctx, track.ID); err != nil {
		logger.Warn("owner cache invalidate failed", logger.String("trackId", track.ID), logger.ErrorField(err))
	}
	if err := h.store.Remove(ctx, track.BlobKey); err != nil {
		logger.Error("failed to remove track blob", logger.String("key", track.BlobKey), logger.ErrorField(err))
	}
	if track.Streamable() {
		if err := h.store.RemovePrefix(ctx, track.StreamPrefix); err != nil {
			logger.Error("failed to remove track stream", logger.String("prefix", track.StreamPrefix), logger.ErrorField(err))
		}
	}

	logger.Info("track deleted", logger.String("trackId", track.ID), logger.String("principalId", p.ID))
	w.WriteHeader(http.StatusNoContent)
}

// CoverHandler serves a cover image to its owner.
func (h *APIHandler) CoverHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	id := mux.Vars(r)["id"]

	cover, err := h.coverRepo.GetCoverByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Cover not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to load cover", logger.String("coverId", id), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if cover.OwnerID != p.ID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	body, err := h.store.GetRange(r.Context(), cover.BlobKey, 0, -1)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			http.Error(w, "Cover not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to read cover blob", logger.String("coverId", id), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, newStoreErrorBody("Failed to read cover", err))
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", cover.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.Debug("cover copy interrupted", logger.String("coverId", id), logger.ErrorField(err))
	}
}
