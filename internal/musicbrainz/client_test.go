package musicbrainz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

const recordingJSON = `{
	"id": "rec-1",
	"title": "Caruso",
	"length": 312000,
	"artist-credit": [{"name": "Lucio Dalla", "artist": {"id": "art-1", "name": "Lucio Dalla", "country": "IT"}}],
	"releases": [
		{"id": "rel-2", "title": "Live Album", "date": "1990-03-01", "country": "DE"},
		{"id": "rel-1", "title": "DallAmeriCaruso", "date": "1986", "country": "IT"}
	],
	"tags": [{"name": "pop", "count": 2}],
	"genres": [{"name": "pop", "count": 1}, {"name": "canzone italiana", "count": 5}]
}`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "MediaOrganizer/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch {
		case r.URL.Path == "/recording/rec-1":
			w.Write([]byte(recordingJSON))
		case r.URL.Path == "/recording/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case r.URL.Path == "/recording/":
			w.Write([]byte(`{"count": 1, "recordings": [` + strings.Replace(recordingJSON, `"id": "rec-1",`, `"id": "rec-1", "score": 95,`, 1) + `]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Options{BaseURL: srv.URL, RateLimit: time.Millisecond, Timeout: 5 * time.Second})
}

func TestLookupRecording(t *testing.T) {
	var hits int32
	client := newTestClient(newTestServer(t, &hits))
	defer client.Close()

	rec, err := client.LookupRecording(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("LookupRecording failed: %v", err)
	}
	if rec.ArtistName() != "Lucio Dalla" {
		t.Errorf("expected artist Lucio Dalla, got %q", rec.ArtistName())
	}
	if rec.Genre() != "canzone italiana" {
		t.Errorf("expected most voted genre, got %q", rec.Genre())
	}
	if rec.Country() != "IT" {
		t.Errorf("expected earliest release country IT, got %q", rec.Country())
	}

	m := rec.Metadata(9)
	if m.Album != "DallAmeriCaruso" || m.Year != 1986 || m.Source != store.SourceMusicBrainz || m.MusicBrainzID != "rec-1" {
		t.Errorf("unexpected metadata %+v", m)
	}
}

func TestLookupRecordingErrors(t *testing.T) {
	var hits int32
	client := newTestClient(newTestServer(t, &hits))
	defer client.Close()
	ctx := context.Background()

	if _, err := client.LookupRecording(ctx, "missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err := client.LookupRecording(ctx, "busy")
	if !errors.Is(err, util.ErrMetadataUnavailable) {
		t.Errorf("expected ErrMetadataUnavailable, got %v", err)
	}
	if !util.IsRetryableError(err) {
		t.Error("expected service unavailable to be retryable")
	}
}

func TestSearchRecording(t *testing.T) {
	var hits int32
	client := newTestClient(newTestServer(t, &hits))
	defer client.Close()

	rec, err := client.SearchRecording(context.Background(), "Caruso", "Lucio Dalla", 90)
	if err != nil {
		t.Fatalf("SearchRecording failed: %v", err)
	}
	if rec == nil || rec.ID != "rec-1" {
		t.Fatalf("expected rec-1, got %+v", rec)
	}

	rec, err = client.SearchRecording(context.Background(), "Caruso", "Lucio Dalla", 99)
	if err != nil || rec != nil {
		t.Errorf("expected no confident match, got %+v, %v", rec, err)
	}
}

func TestClientRateLimiting(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	client := NewClient(Options{BaseURL: srv.URL, RateLimit: 50 * time.Millisecond})
	defer client.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.LookupRecording(context.Background(), "rec-1"); err != nil {
			t.Fatalf("LookupRecording failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Rate limiting not working: 3 requests took only %v", elapsed)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1", RateLimit: time.Hour})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.LookupRecording(ctx, "rec-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCache(t *testing.T) {
	var hits int32
	client := newTestClient(newTestServer(t, &hits))
	defer client.Close()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	cache := NewCache(s.DB(), client, 0)
	if err := cache.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec, err := cache.Lookup(ctx, "rec-1")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if rec.Title != "Caruso" {
			t.Errorf("expected Caruso, got %q", rec.Title)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected 1 API request, got %d", n)
	}

	entries, totalHits, err := cache.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if entries != 1 || totalHits != 2 {
		t.Errorf("expected 1 entry with 2 hits, got %d entries, %d hits", entries, totalHits)
	}

	removed, err := cache.ClearOldEntries(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("ClearOldEntries failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
}
