package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/storage"
)

// fakeNeoWs serves the feed and lookup endpoints from memory.
type fakeNeoWs struct {
	*httptest.Server
	t *testing.T

	mu           sync.Mutex
	objects      []storage.NearEarthObject
	emptyFeed    bool
	feedStatus   int
	detailStatus map[string]int
	dropDetail   map[string]bool
	feedGate     chan struct{}

	feedCalls   int
	feedDates   []string
	detailCalls []string
}

func newFakeNeoWs(t *testing.T, realObjects int) *fakeNeoWs {
	t.Helper()
	f := &fakeNeoWs{
		t:            t,
		objects:      realNEOs(realObjects),
		detailStatus: map[string]int{},
		dropDetail:   map[string]bool{},
	}
	f.Server = httptest.NewUnstartedServer(http.HandlerFunc(f.handle))
	// One connection per request, so a dropped connection is never
	// replayed by the client transport.
	f.Config.SetKeepAlivesEnabled(false)
	f.Start()
	t.Cleanup(f.Close)
	return f
}

func (f *fakeNeoWs) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != "test-key" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("X-RateLimit-Limit", "1000")

	switch {
	case r.URL.Path == "/feed":
		f.serveFeed(w, r)
	case strings.HasPrefix(r.URL.Path, "/neo/"):
		f.serveDetail(w, r, strings.TrimPrefix(r.URL.Path, "/neo/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeNeoWs) serveFeed(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("start_date")

	f.mu.Lock()
	f.feedCalls++
	f.feedDates = append(f.feedDates, date)
	status, gate := f.feedStatus, f.feedGate
	objects := append([]storage.NearEarthObject(nil), f.objects...)
	empty := f.emptyFeed
	remaining := 1000 - f.feedCalls - len(f.detailCalls)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	resp := storage.FeedResponse{
		Links:            storage.Links{Self: f.URL + "/feed"},
		ElementCount:     len(objects),
		NearEarthObjects: map[string][]storage.NearEarthObject{},
	}
	if !empty {
		resp.NearEarthObjects[date] = objects
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeNeoWs) serveDetail(w http.ResponseWriter, _ *http.Request, id string) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, id)
	status, hasStatus := f.detailStatus[id]
	drop := f.dropDetail[id]
	remaining := 1000 - f.feedCalls - len(f.detailCalls)
	f.mu.Unlock()

	if drop {
		hj, ok := w.(http.Hijacker)
		if !ok {
			f.t.Error("response writer cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	if IsSynthetic(id) && !hasStatus {
		status, hasStatus = http.StatusNotFound, true
	}
	if hasStatus && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(storage.NEODetail{
		ID:          id,
		OrbitalData: fakeOrbit(id),
	})
}

func (f *fakeNeoWs) counts() (feed int, detail int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feedCalls, len(f.detailCalls)
}

func fakeOrbit(id string) *storage.OrbitalData {
	return &storage.OrbitalData{
		OrbitID:    "orbit-" + id,
		Equinox:    "J2000",
		OrbitClass: storage.OrbitClass{Type: "APO", Description: "Near-Earth asteroid orbits which cross the Earth's orbit", Range: "a (semi-major axis) > 1.0 AU"},
	}
}

func realNEOs(n int) []storage.NearEarthObject {
	out := make([]storage.NearEarthObject, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%d", 3542519+i)
		out = append(out, storage.NearEarthObject{
			ID:             id,
			NeoReferenceID: id,
			Name:           fmt.Sprintf("(2010 PK%d)", i+1),
			CloseApproachData: []storage.CloseApproachEvent{{
				CloseApproachDate: "2025-06-01",
				OrbitingBody:      "Earth",
			}},
		})
	}
	return out
}

func testLoader(t *testing.T, server *fakeNeoWs) *Loader {
	t.Helper()
	cfg := config.TestConfig()
	cfg.API.BaseURL = server.URL
	cfg.API.AllowInsecure = true
	return NewLoader(cfg, NewFetcher(cfg))
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// stubSource serves canned data without HTTP.
type stubSource struct {
	mu          sync.Mutex
	feed        func(date string) (*storage.FeedResponse, error)
	detail      func(ctx context.Context, id string) (*storage.NEODetail, error)
	detailCalls int
}

func (s *stubSource) FetchFeed(_ context.Context, date string) (*storage.FeedResponse, storage.RateLimit, error) {
	resp, err := s.feed(date)
	return resp, storage.RateLimit{}, err
}

func (s *stubSource) FetchDetail(ctx context.Context, id string) (*storage.NEODetail, storage.RateLimit, error) {
	s.mu.Lock()
	s.detailCalls++
	s.mu.Unlock()
	d, err := s.detail(ctx, id)
	return d, storage.RateLimit{}, err
}

func stubFeed(n int) func(string) (*storage.FeedResponse, error) {
	return func(date string) (*storage.FeedResponse, error) {
		return &storage.FeedResponse{
			ElementCount:     n,
			NearEarthObjects: map[string][]storage.NearEarthObject{date: realNEOs(n)},
		}, nil
	}
}
