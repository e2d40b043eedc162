package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"tunevault/config"
	"tunevault/core/auth"
	"tunevault/core/events"
	"tunevault/core/ingest"
	"tunevault/core/playback"
	"tunevault/logger"
	"tunevault/model"
	"tunevault/repository"
	"tunevault/storage"
)

// Ingester stores the uploads of one request.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) ([]model.Track, error)
}

// OwnerResolver answers "who owns this track" for the playback path and is
// told when that answer goes stale.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, trackID string) (string, error)
	Invalidate(ctx context.Context, trackID string) error
	Purge(ctx context.Context) (int, error)
}

// Deps is everything the handlers talk to.
type Deps struct {
	Config   *config.Config
	Users    repository.UserRepository
	Tracks   repository.TrackRepository
	Covers   repository.CoverRepository
	Store    storage.BlobStore
	Ingester Ingester
	Tokens   *auth.TokenManager
	Issuer   *playback.Issuer
	Verifier *playback.Verifier
	Owners   OwnerResolver
	Hub      *events.Hub
}

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg       *config.Config
	userRepo  repository.UserRepository
	trackRepo repository.TrackRepository
	coverRepo repository.CoverRepository
	store     storage.BlobStore
	ingester  Ingester
	tokens    *auth.TokenManager
	issuer    *playback.Issuer
	verifier  *playback.Verifier
	owners    OwnerResolver
	hub       *events.Hub

	uploadSlots chan struct{}
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	slots := d.Config.MaxConcurrentUploads
	if slots <= 0 {
		slots = 1
	}
	return &APIHandler{
		cfg:         d.Config,
		userRepo:    d.Users,
		trackRepo:   d.Tracks,
		coverRepo:   d.Covers,
		store:       d.Store,
		ingester:    d.Ingester,
		tokens:      d.Tokens,
		issuer:      d.Issuer,
		verifier:    d.Verifier,
		owners:      d.Owners,
		hub:         d.Hub,
		uploadSlots: make(chan struct{}, slots),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// storeErrorBody is the 500 body of a failed store write. Code and Message are
// the blob store's own, when it reported any.
type storeErrorBody struct {
	Error   string        `json:"error"`
	Stage   string        `json:"stage,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
	Tracks  []model.Track `json:"tracks,omitempty"`
}

func newStoreErrorBody(msg string, err error) storeErrorBody {
	body := storeErrorBody{Error: msg}
	var se *ingest.StoreError
	if errors.As(err, &se) {
		body.Stage = string(se.Stage)
	}
	body.Code, body.Message = storage.ErrorDetail(err)
	return body
}

// loadOwnedTrack fetches the track named in the path and checks that p owns
// it. It writes the error response itself and returns nil on failure.
func (h *APIHandler) loadOwnedTrack(w http.ResponseWriter, r *http.Request, p model.Principal, trackID string) *model.Track {
	track, err := h.trackRepo.GetTrackByID(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return nil
		}
		logger.Error("failed to load track", logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
	if track.OwnerID != p.ID {
		logger.Warn("track access denied",
			logger.String("trackId", trackID),
			logger.String("principalId", p.ID))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	}
	return track
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
