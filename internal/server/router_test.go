package server

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/reelnotes/reelnotes/internal/auth"
	"github.com/reelnotes/reelnotes/internal/videos"
	"github.com/reelnotes/reelnotes/internal/videostore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testDeviceID     = "device-1"
	testDeviceSecret = "s3cret"
	testVideoID      = "dQw4w9WgXcQ"
	testVideoURL     = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(
		&videostore.VideoRecord{},
		&videostore.TagRecord{},
		&videostore.VideoTagRecord{},
		&videostore.NoteRecord{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := videostore.NewService(videostore.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build video service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "reelnotes-auth",
		Audience:      "reelnotes-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      issuer,
		VideoService:      service,
		DeviceCredentials: map[string]string{testDeviceID: testDeviceSecret},
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func obtainToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/auth/session", "", map[string]string{
		"device_id":     testDeviceID,
		"device_secret": testDeviceSecret,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("session exchange failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var session struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session response: %v", err)
	}
	if session.AccessToken == "" || session.TokenType != "Bearer" {
		t.Fatalf("unexpected session payload: %s", recorder.Body.String())
	}
	return session.AccessToken
}

func TestHealthzReportsHealthyJSON(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode health payload: %v", err)
	}
	if payload.Status != "healthy" {
		t.Fatalf("unexpected health payload: %s", recorder.Body.String())
	}
}

func TestSessionRejectsBadCredentials(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodPost, "/auth/session", "", map[string]string{
		"device_id":     testDeviceID,
		"device_secret": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/api/videos", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
	recorder = doJSON(t, handler, http.MethodGet, "/api/videos", "garbage-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", recorder.Code)
	}
}

func TestImportEndpointAppliesPayload(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	payload := videos.ImportRequest{
		Videos: []videos.Video{{
			ID:        testVideoID,
			URL:       testVideoURL,
			Title:     "Carbonara, properly",
			Tags:      []string{"pasta"},
			CreatedAt: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
		}},
		NotesByVideoID: map[string][]videos.Note{
			testVideoID: {{ID: "note-1", VideoID: testVideoID, TimestampSec: 95, Content: "no cream"}},
		},
	}

	recorder := doJSON(t, handler, http.MethodPost, "/api/import", token, payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	var response videos.ImportResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode import response: %v", err)
	}
	if !response.Success || response.Stats.VideosCreated != 1 || response.Stats.NotesCreated != 1 {
		t.Fatalf("unexpected import response: %+v", response)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos/"+testVideoID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var detail videos.WireVideoDetail
	if err := json.Unmarshal(recorder.Body.Bytes(), &detail); err != nil {
		t.Fatalf("failed to decode video detail: %v", err)
	}
	if len(detail.Notes) != 1 || detail.Notes[0].ClientNoteID != "note-1" {
		t.Fatalf("unexpected detail payload: %s", recorder.Body.String())
	}
}

func TestVideoEndpointsRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, http.MethodPost, "/api/videos", token, map[string]interface{}{
		"url":   "https://youtu.be/" + testVideoID,
		"title": "Carbonara, properly",
		"tags":  []string{"Pasta"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	var created videos.WireVideo
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created video: %v", err)
	}
	if created.ID != testVideoID || created.URL != testVideoURL {
		t.Fatalf("unexpected created video: %+v", created)
	}

	// Duplicate create reports a conflict.
	recorder = doJSON(t, handler, http.MethodPost, "/api/videos", token, map[string]interface{}{
		"url": testVideoURL, "title": "again",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPatch, "/api/videos/"+testVideoID, token, map[string]interface{}{
		"title": "Carbonara, revisited",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/videos/"+testVideoID+"/notes", token, map[string]interface{}{
		"id": "note-1", "timestamp": 95, "content": "no cream",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	var note videos.WireNote
	if err := json.Unmarshal(recorder.Body.Bytes(), &note); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/tags", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var tags []videostore.Tag
	if err := json.Unmarshal(recorder.Body.Bytes(), &tags); err != nil {
		t.Fatalf("failed to decode tags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "pasta" {
		t.Fatalf("unexpected tag dictionary: %s", recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/notes/%d", note.ID), token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/api/videos/"+testVideoID, token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	recorder = doJSON(t, handler, http.MethodGet, "/api/videos/"+testVideoID, token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func TestListVideosSupportsSkipAndLimit(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	payload := videos.ImportRequest{Videos: []videos.Video{
		{ID: "aaaaaaaaaa1", URL: "https://www.youtube.com/watch?v=aaaaaaaaaa1", Title: "oldest",
			CreatedAt: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "aaaaaaaaaa2", URL: "https://www.youtube.com/watch?v=aaaaaaaaaa2", Title: "middle",
			CreatedAt: time.Date(2025, 10, 1, 12, 1, 0, 0, time.UTC)},
		{ID: "aaaaaaaaaa3", URL: "https://www.youtube.com/watch?v=aaaaaaaaaa3", Title: "newest",
			CreatedAt: time.Date(2025, 10, 1, 12, 2, 0, 0, time.UTC)},
	}}
	recorder := doJSON(t, handler, http.MethodPost, "/api/import", token, payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var all []videos.WireVideo
	if err := json.Unmarshal(recorder.Body.Bytes(), &all); err != nil {
		t.Fatalf("failed to decode video list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "aaaaaaaaaa3" {
		t.Fatalf("expected full newest-first list, got %s", recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos?skip=1&limit=1", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	var page []videos.WireVideo
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode video page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "aaaaaaaaaa2" {
		t.Fatalf("expected the middle video, got %s", recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos?limit=nope", token, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed limit, got %d", recorder.Code)
	}
}

func TestListNotesEndpointReturnsOrderedNotes(t *testing.T) {
	handler := newTestHandler(t)
	token := obtainToken(t, handler)

	recorder := doJSON(t, handler, http.MethodPost, "/api/videos", token, map[string]interface{}{
		"url": testVideoURL, "title": "Carbonara, properly",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	for _, note := range []map[string]interface{}{
		{"id": "note-late", "timestamp": 120, "content": "plating"},
		{"id": "note-early", "timestamp": 30, "content": "guanciale in"},
	} {
		recorder = doJSON(t, handler, http.MethodPost, "/api/videos/"+testVideoID+"/notes", token, note)
		if recorder.Code != http.StatusCreated {
			t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
		}
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos/"+testVideoID+"/notes", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	var notes []videos.WireNote
	if err := json.Unmarshal(recorder.Body.Bytes(), &notes); err != nil {
		t.Fatalf("failed to decode note list: %v", err)
	}
	if len(notes) != 2 || notes[0].ClientNoteID != "note-early" || notes[1].ClientNoteID != "note-late" {
		t.Fatalf("expected timestamp-ordered notes, got %s", recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/videos/absent567890/notes", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown video, got %d", recorder.Code)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/videos", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: jwt.ErrTokenExpired},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/videos", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

type stubTokenManager struct {
	validateErr error
}

func (s stubTokenManager) IssueSessionToken(contextpkg.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	return "", s.validateErr
}
