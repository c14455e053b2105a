package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/reelnotes/reelnotes/internal/videos"
	"github.com/reelnotes/reelnotes/internal/videostore"
	"go.uber.org/zap"
)

const userIDContextKey = "reelnotes_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingVideoService  = errors.New("video service dependency required")
	errMissingCredentials   = errors.New("device credentials required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the bearer tokens handed out for
// device credentials.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to its collaborators. DeviceCredentials
// maps device id to shared secret.
type Dependencies struct {
	TokenManager      SessionTokenManager
	VideoService      *videostore.Service
	DeviceCredentials map[string]string
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.VideoService == nil {
		return nil, errMissingVideoService
	}
	if len(deps.DeviceCredentials) == 0 {
		return nil, errMissingCredentials
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		videos:      deps.VideoService,
		credentials: deps.DeviceCredentials,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/session", handler.handleSession)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/import", handler.handleImport)
	protected.GET("/videos", handler.handleListVideos)
	protected.POST("/videos", handler.handleCreateVideo)
	protected.GET("/videos/:id", handler.handleGetVideo)
	protected.GET("/videos/:id/notes", handler.handleListNotes)
	protected.PATCH("/videos/:id", handler.handleUpdateVideo)
	protected.DELETE("/videos/:id", handler.handleDeleteVideo)
	protected.POST("/videos/:id/notes", handler.handleCreateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.GET("/tags", handler.handleListTags)

	return router, nil
}

type httpHandler struct {
	tokens      SessionTokenManager
	videos      *videostore.Service
	credentials map[string]string
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type sessionRequestPayload struct {
	DeviceID     string `json:"device_id"`
	DeviceSecret string `json:"device_secret"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	expected, known := h.credentials[request.DeviceID]
	if !known || subtle.ConstantTimeCompare([]byte(expected), []byte(request.DeviceSecret)) != 1 {
		h.logger.Warn("device credential rejected", zap.String("device_id", request.DeviceID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), request.DeviceID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleImport(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request videos.ImportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.videos.Import(c.Request.Context(), userID, request)
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListVideos(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	page, ok := pageFromQuery(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	list, err := h.videos.ListVideos(c.Request.Context(), userID, page)
	if err != nil {
		h.logger.Error("failed to list videos", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// pageFromQuery reads the optional skip/limit query parameters. Absent
// parameters leave the page unbounded.
func pageFromQuery(c *gin.Context) (videostore.Page, bool) {
	var page videostore.Page
	if raw := c.Query("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return videostore.Page{}, false
		}
		page.Skip = skip
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return videostore.Page{}, false
		}
		page.Limit = limit
	}
	return page, true
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	notes, err := h.videos.ListNotes(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *httpHandler) handleGetVideo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	detail, err := h.videos.GetVideo(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type createVideoPayload struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func (h *httpHandler) handleCreateVideo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createVideoPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.videos.CreateVideo(c.Request.Context(), userID, videostore.CreateVideoParams{
		URL:   request.URL,
		Title: request.Title,
		Tags:  request.Tags,
	})
	if err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type updateVideoPayload struct {
	Title *string   `json:"title"`
	Tags  *[]string `json:"tags"`
}

func (h *httpHandler) handleUpdateVideo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request updateVideoPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.videos.UpdateVideo(c.Request.Context(), userID, c.Param("id"), videostore.UpdateVideoParams{
		Title: request.Title,
		Tags:  request.Tags,
	})
	if err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteVideo(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.videos.DeleteVideo(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createNotePayload struct {
	ID        string `json:"id"`
	Timestamp int    `json:"timestamp"`
	Content   string `json:"content"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.videos.CreateNote(c.Request.Context(), userID, c.Param("id"), videostore.CreateNoteParams{
		ClientNoteID: request.ID,
		TimestampSec: request.Timestamp,
		Content:      request.Content,
	})
	if err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	if err := h.videos.DeleteNote(c.Request.Context(), userID, noteID); err != nil {
		h.respondVideoError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	tags, err := h.videos.ListTags(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list tags", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (h *httpHandler) respondVideoError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, videostore.ErrVideoNotFound), errors.Is(err, videostore.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, videostore.ErrVideoExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists"})
	case errors.Is(err, videostore.ErrInvalidURL), errors.Is(err, videos.ErrInvalidTimestamp):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("video request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
