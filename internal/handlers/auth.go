package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/auth"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

// PhotoStore uploads profile photos.
type PhotoStore interface {
	Upload(ctx context.Context, objectPath, localFile string) (string, error)
	DurableURL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// AuthHandler manages accounts and the caller's profile.
type AuthHandler struct {
	provider *auth.Provider
	users    repositories.UserRepository
	photos   PhotoStore
	audit    *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(provider *auth.Provider, users repositories.UserRepository, photos PhotoStore, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{provider: provider, users: users, photos: photos, audit: audit}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type sessionResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// SignUp creates an account and signs in as it.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session := auth.NewSession(h.provider)
	if err := session.SignUp(c.Request.Context(), req.Email, req.Password, req.Name); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidAccount), errors.Is(err, auth.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repositories.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Printf("sign up failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		}
		return
	}

	user := session.CurrentUser()
	h.audit.Emit(c.Request.Context(), "INFO", "user signed up", requestIDFromContext(c), &user.UserID)
	c.JSON(http.StatusCreated, sessionResponse{User: *user, Token: session.Token()})
}

// SignIn exchanges credentials for a token.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session := auth.NewSession(h.provider)
	if err := session.SignIn(c.Request.Context(), req.Email, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		log.Printf("sign in failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign in"})
		return
	}

	user := session.CurrentUser()
	h.audit.Emit(c.Request.Context(), "INFO", "user signed in", requestIDFromContext(c), &user.UserID)
	c.JSON(http.StatusOK, sessionResponse{User: *user, Token: session.Token()})
}

// SignOut ends the caller's session. Tokens are stateless, so the client
// discards its copy.
func (h *AuthHandler) SignOut(c *gin.Context) {
	h.audit.Emit(c.Request.Context(), "INFO", "user signed out", requestIDFromContext(c), userIDFromContext(c))
	c.Status(http.StatusNoContent)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.provider.Lookup(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// SetPushToken registers or refreshes the caller's push token.
func (h *AuthHandler) SetPushToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	if err := h.users.SetPushToken(c.Request.Context(), c.GetString("userID"), req.Token); err != nil {
		respondUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadPhoto stores the multipart "file" as the caller's profile photo.
func (h *AuthHandler) UploadPhoto(c *gin.Context) {
	userID := c.GetString("userID")
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	tmp, err := os.CreateTemp("", "photo-*"+filepath.Ext(file.Filename))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage upload"})
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := c.SaveUploadedFile(file, tmp.Name()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage upload"})
		return
	}

	ctx := c.Request.Context()
	key, err := h.photos.Upload(ctx, path.Join("profile", userID, filepath.Base(file.Filename)), tmp.Name())
	observability.ObserveBlobUpload(err)
	if err != nil {
		log.Printf("photo upload failed user_id=%s: %v", userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to upload photo"})
		return
	}
	url, err := h.photos.DurableURL(ctx, key)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to resolve photo url"})
		return
	}

	user, err := h.provider.UpdateProfile(ctx, userID, nil, &url)
	if err != nil {
		if rmErr := h.photos.Remove(ctx, key); rmErr != nil {
			log.Printf("photo cleanup failed key=%s: %v", key, rmErr)
		}
		respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers returns every user except the caller.
func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	caller := c.GetString("userID")
	others := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.UserID != caller {
			others = append(others, u.Snapshot())
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": others})
}

func respondUserError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
}
