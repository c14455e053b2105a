package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reelnotes/reelnotes/internal/videos"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		BaseURL:      server.URL,
		DeviceID:     "device-1",
		DeviceSecret: "s3cret",
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client, server
}

func TestHealthAcceptsHealthyJSON(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"healthy"}`)) //nolint:errcheck
	}))

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthRejectsNonJSONResponse(t *testing.T) {
	// A captive portal or proxy answering 200 with HTML must not read as
	// backend reachability.
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>sign in</html>")) //nolint:errcheck
	}))

	if err := client.Health(context.Background()); !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestHealthReportsUnhealthyStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"degraded"}`)) //nolint:errcheck
	}))

	if err := client.Health(context.Background()); !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestHealthReportsConnectionRefused(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	if err := client.Health(context.Background()); !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestDoJSONRefreshesSessionOnceOn401(t *testing.T) {
	var sessionCalls, listCalls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/session":
			sessionCalls++
			var payload map[string]string
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("failed to decode session request: %v", err)
			}
			if payload["device_id"] != "device-1" || payload["device_secret"] != "s3cret" {
				t.Fatalf("unexpected credentials %v", payload)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"fresh-token","expires_in":1800,"token_type":"Bearer"}`)) //nolint:errcheck
		case "/api/videos":
			listCalls++
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`)) //nolint:errcheck
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	list, err := client.ListVideos(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("unexpected list %v", list)
	}
	if sessionCalls != 1 {
		t.Fatalf("expected exactly one session refresh, got %d", sessionCalls)
	}
	if listCalls != 2 {
		t.Fatalf("expected original call plus one retry, got %d", listCalls)
	}
}

func TestDoJSONSurfacesSecond401AsRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/session" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"still-bad"}`)) //nolint:errcheck
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`)) //nolint:errcheck
	}))

	_, err := client.ListVideos(context.Background())
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejected.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rejected.StatusCode)
	}
}

func TestDoJSONMapsStatusCodes(t *testing.T) {
	status := http.StatusOK
	body := `{}`
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck
	}))

	status, body = http.StatusNotFound, `{"error":"not_found"}`
	if _, err := client.GetVideo(context.Background(), "dQw4w9WgXcQ"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	status, body = http.StatusInternalServerError, `{"error":"boom"}`
	if _, err := client.GetVideo(context.Background(), "dQw4w9WgXcQ"); !IsUnreachable(err) {
		t.Fatalf("expected unreachable for 5xx, got %v", err)
	}

	status, body = http.StatusUnprocessableEntity, `{"error":"invalid_request"}`
	_, err := client.CreateVideo(context.Background(), CreateVideoRequest{URL: "https://example.com"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection for 4xx, got %v", err)
	}
	if rejected.Message != "invalid_request" {
		t.Fatalf("expected server message carried through, got %q", rejected.Message)
	}
}

func TestImportSendsPayloadAndDecodesStats(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/import" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var request videos.ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("failed to decode import payload: %v", err)
		}
		if len(request.Videos) != 1 || request.Videos[0].ID != "dQw4w9WgXcQ" {
			t.Fatalf("unexpected payload %+v", request)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"import completed successfully","stats":{"videos_created":1}}`)) //nolint:errcheck
	}))

	response, err := client.Import(context.Background(), videos.ImportRequest{
		Videos: []videos.Video{{ID: "dQw4w9WgXcQ", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !response.Success || response.Stats.VideosCreated != 1 {
		t.Fatalf("unexpected response %+v", response)
	}
}
