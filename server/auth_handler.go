package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tunevault/core/auth"
	"tunevault/core/ingest"
	"tunevault/logger"
	"tunevault/model"
	"tunevault/repository"

	"github.com/google/uuid"
)

type ctxKey int

const principalKey ctxKey = iota

// credentials is the body of register and login.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string          `json:"token"`
	User  model.Principal `json:"user"`
}

// PrincipalFromContext returns the principal AuthMiddleware attached.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on a websocket handshake, so access_token in the query is accepted
// as well.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// AuthMiddleware 验证访问令牌并把 Principal 放入请求上下文
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}
		p, err := h.tokens.ParseToken(token)
		if err != nil {
			logger.Debug("[Auth] 令牌校验失败", logger.ErrorField(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var req credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// RegisterHandler handles user registration requests
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("[Register] 密码哈希失败", logger.ErrorField(err))
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := h.userRepo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			logger.Warn("[Register] 用户名已存在", logger.String("username", req.Username))
			http.Error(w, "Username already exists", http.StatusConflict)
			return
		}
		logger.Error("[Register] 创建用户失败", logger.ErrorField(err))
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.respondWithToken(w, http.StatusCreated, user.Principal())
	logger.Info("[Register] 注册成功", logger.String("principalId", user.ID))
}

// LoginHandler handles user login requests
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.userRepo.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("[Login] 用户不存在", logger.String("username", req.Username))
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		logger.Error("[Login] 查询用户失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	h.respondWithToken(w, http.StatusOK, user.Principal())
}

func (h *APIHandler) respondWithToken(w http.ResponseWriter, status int, p model.Principal) {
	token, err := h.tokens.GenerateToken(p)
	if err != nil {
		logger.Error("failed to generate token", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: p})
}

// MeHandler returns the calling principal.
func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, p)
}

// DeleteMeHandler removes the principal. Rows cascade in the database; blobs
// and cached owners are cleaned up best-effort afterwards.
func (h *APIHandler) DeleteMeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	ctx := r.Context()

	if err := h.userRepo.DeleteUser(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		logger.Error("failed to delete user", logger.String("principalId", p.ID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	cleanup := context.WithoutCancel(ctx)
	if err := h.store.RemovePrefix(cleanup, ingest.OwnerPrefix(p.ID)); err != nil {
		logger.Error("failed to remove principal blobs", logger.String("principalId", p.ID), logger.ErrorField(err))
	}
	if _, err := h.owners.Purge(cleanup); err != nil {
		logger.Warn("owner cache purge failed", logger.ErrorField(err))
	}

	logger.Info("principal deleted", logger.String("principalId", p.ID))
	w.WriteHeader(http.StatusNoContent)
}
