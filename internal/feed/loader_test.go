package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/storage"
)

var loadTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLoad_FetchesInjectsAndEnriches(t *testing.T) {
	server := newFakeNeoWs(t, 5)
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())

	require.Equal(t, StatusFetched, res.Status)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Data)
	assert.Equal(t, "2025-06-01", res.Date)

	objs := res.Data.NearEarthObjects["2025-06-01"]
	require.Len(t, objs, 8)
	assert.Equal(t, 7, res.Data.ElementCount, "element_count is bumped by two for three injected objects")

	assert.Equal(t, "test-neo-1", objs[0].ID)
	assert.Equal(t, "test-neo-2", objs[1].ID)
	assert.Equal(t, "test-neo-3", objs[2].ID)
	assert.Equal(t, "3542519", objs[3].ID)

	for _, obj := range objs[:3] {
		require.NotNil(t, obj.OrbitalData, obj.ID)
		assert.Contains(t, obj.OrbitalData.OrbitID, "test-orbit", "synthetic objects keep their fabricated orbit on 404")
	}
	for _, obj := range objs[3:] {
		require.NotNil(t, obj.OrbitalData, obj.ID)
		assert.Equal(t, "orbit-"+obj.ID, obj.OrbitalData.OrbitID)
	}

	feedCalls, detailCalls := server.counts()
	assert.Equal(t, 1, feedCalls)
	assert.Equal(t, 8, detailCalls, "every object under the first key is looked up, synthetic ones included")

	rl := loader.RateLimit()
	assert.Equal(t, "1000", rl.Limit)
	assert.NotEmpty(t, rl.Remaining)
}

func TestLoad_SyntheticApproachTimes(t *testing.T) {
	server := newFakeNeoWs(t, 0)
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)

	objs := res.Data.NearEarthObjects["2025-06-01"]
	require.Len(t, objs, 3)

	want := []struct {
		epoch int64
		full  string
	}{
		{loadTime.UnixMilli() + 60000, "2025-Jun-01 12:01"},
		{loadTime.UnixMilli() + 120000, "2025-Jun-01 12:02"},
		{loadTime.UnixMilli() + 250000, "2025-Jun-01 12:04"},
	}
	for i, w := range want {
		approach, ok := objs[i].NextApproach()
		require.True(t, ok)
		assert.Equal(t, w.epoch, approach.EpochDateCloseApproach)
		assert.Equal(t, w.full, approach.CloseApproachDateFull)
		assert.Equal(t, "2025-Jun-01", approach.CloseApproachDate)
		assert.Equal(t, w.full, objs[i].OrbitalData.OrbitDeterminationDate)
	}
	assert.Equal(t, 2, res.Data.ElementCount)
}

func TestLoad_SameDayCacheHit(t *testing.T) {
	server := newFakeNeoWs(t, 3)
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	first := loader.Load(context.Background())
	require.Equal(t, StatusFetched, first.Status)
	feedBefore, detailBefore := server.counts()

	later := loadTime.Add(11 * time.Hour)
	loader.SetClock(fixedClock(later))
	second := loader.Load(context.Background())

	assert.Equal(t, StatusCached, second.Status)
	assert.Same(t, first.Data, second.Data)

	feedAfter, detailAfter := server.counts()
	assert.Equal(t, feedBefore, feedAfter, "no feed request on a same-day hit")
	assert.Equal(t, detailBefore, detailAfter, "no lookup requests on a same-day hit")
}

func TestLoad_DateRolloverFetchesOnce(t *testing.T) {
	server := newFakeNeoWs(t, 2)
	loader := testLoader(t, server)

	loader.SetClock(fixedClock(time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)))
	require.Equal(t, StatusFetched, loader.Load(context.Background()).Status)

	loader.SetClock(fixedClock(time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)))
	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)
	assert.Equal(t, "2025-06-02", res.Date)
	assert.Contains(t, res.Data.NearEarthObjects, "2025-06-02")

	res = loader.Load(context.Background())
	assert.Equal(t, StatusCached, res.Status)

	feedCalls, _ := server.counts()
	assert.Equal(t, 2, feedCalls)
	assert.Equal(t, []string{"2025-06-01", "2025-06-02"}, server.feedDates)
}

func TestLoad_LateFlightDoesNotRevertRollover(t *testing.T) {
	var mu sync.Mutex
	var feedDates []string
	source := &stubSource{}
	source.feed = func(date string) (*storage.FeedResponse, error) {
		mu.Lock()
		feedDates = append(feedDates, date)
		mu.Unlock()
		return stubFeed(2)(date)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool
	source.detail = func(ctx context.Context, id string) (*storage.NEODetail, error) {
		if blocked.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
		return &storage.NEODetail{ID: id, OrbitalData: fakeOrbit(id)}, nil
	}

	cfg := config.TestConfig()
	cfg.Loader.InjectSynthetic = false
	loader := NewLoader(cfg, source)

	var now atomic.Pointer[time.Time]
	day1 := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	now.Store(&day1)
	loader.SetClock(func() time.Time { return *now.Load() })

	done := make(chan Result, 1)
	go func() { done <- loader.Load(context.Background()) }()
	<-started

	day2 := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	now.Store(&day2)
	second := loader.Load(context.Background())
	require.Equal(t, StatusFetched, second.Status)
	require.Equal(t, "2025-06-02", second.Date)

	close(release)
	first := <-done
	assert.Equal(t, StatusFetched, first.Status)
	assert.Equal(t, "2025-06-01", first.Date)

	third := loader.Load(context.Background())
	assert.Equal(t, StatusCached, third.Status)
	assert.Same(t, second.Data, third.Data)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"2025-06-01", "2025-06-02"}, feedDates, "one feed request per day")
}

func TestLoad_DateIsUTC(t *testing.T) {
	server := newFakeNeoWs(t, 1)
	loader := testLoader(t, server)

	// 22:30 on May 31st in UTC-5 is already June 1st in UTC.
	local := time.Date(2025, 5, 31, 22, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	loader.SetClock(fixedClock(local))

	res := loader.Load(context.Background())
	assert.Equal(t, "2025-06-01", res.Date)
}

func TestLoad_NonOKFeedYieldsEmpty(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			server := newFakeNeoWs(t, 3)
			server.feedStatus = status
			loader := testLoader(t, server)
			loader.SetClock(fixedClock(loadTime))

			res := loader.Load(context.Background())

			assert.Equal(t, StatusEmpty, res.Status)
			assert.Nil(t, res.Data)
			var statusErr *StatusError
			require.ErrorAs(t, res.Err, &statusErr)
			assert.Equal(t, status, statusErr.Code)
			assert.NotContains(t, statusErr.Error(), "test-key")

			page, err := json.Marshal(res.Page())
			require.NoError(t, err)
			assert.JSONEq(t, `{}`, string(page))

			_, detailCalls := server.counts()
			assert.Zero(t, detailCalls)

			// Nothing was cached, so the next load asks again.
			loader.Load(context.Background())
			feedCalls, _ := server.counts()
			assert.Equal(t, 2, feedCalls)
		})
	}
}

func TestLoad_FailingDetailIsSkipped(t *testing.T) {
	server := newFakeNeoWs(t, 5)
	failing := "3542521"
	server.detailStatus[failing] = http.StatusInternalServerError
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)
	require.NoError(t, res.Err)

	objs := res.Data.NearEarthObjects["2025-06-01"]
	require.Len(t, objs, 8)

	enrichedReal := 0
	for _, obj := range objs[3:] {
		if obj.ID == failing {
			assert.Nil(t, obj.OrbitalData)
			continue
		}
		if obj.OrbitalData != nil {
			enrichedReal++
		}
	}
	assert.Equal(t, 4, enrichedReal)

	_, detailCalls := server.counts()
	assert.Equal(t, 8, detailCalls, "enrichment continues past a non-2xx lookup")
}

func TestLoad_TransportErrorAbandonsEnrichment(t *testing.T) {
	server := newFakeNeoWs(t, 5)
	server.dropDetail["3542520"] = true
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())

	require.Equal(t, StatusPartial, res.Status)
	require.Error(t, res.Err)
	require.NotNil(t, res.Data)

	objs := res.Data.NearEarthObjects["2025-06-01"]
	require.Len(t, objs, 8)
	assert.NotNil(t, objs[3].OrbitalData, "objects before the failure stay enriched")
	for _, obj := range objs[4:] {
		assert.Nil(t, obj.OrbitalData, obj.ID)
	}

	_, detailCalls := server.counts()
	assert.Equal(t, 5, detailCalls, "no lookups after the failing one")

	page, err := json.Marshal(res.Page())
	require.NoError(t, err)
	assert.Contains(t, string(page), `"data"`)

	// The partial payload is what today serves from now on.
	again := loader.Load(context.Background())
	assert.Equal(t, StatusCached, again.Status)
	assert.Same(t, res.Data, again.Data)
}

func TestLoad_CancelledBeforeFetch(t *testing.T) {
	server := newFakeNeoWs(t, 2)
	loader := testLoader(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := loader.Load(ctx)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, Page{}, res.Page())
}

func TestLoad_CancelledDuringEnrichment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &stubSource{feed: stubFeed(4)}
	source.detail = func(ctx context.Context, id string) (*storage.NEODetail, error) {
		if id == "3542520" {
			cancel()
			return nil, ctx.Err()
		}
		return &storage.NEODetail{ID: id, OrbitalData: fakeOrbit(id)}, nil
	}

	cfg := config.TestConfig()
	cfg.Loader.InjectSynthetic = false
	loader := NewLoader(cfg, source)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(ctx)

	assert.Equal(t, StatusPartial, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, res.Data.CountEnriched())
	assert.Equal(t, 2, source.detailCalls)
}

func TestLoad_ConcurrentEnrichment(t *testing.T) {
	server := newFakeNeoWs(t, 20)
	server.detailStatus["3542525"] = http.StatusNotFound
	loader := testLoader(t, server)
	loader.config.Loader.EnrichConcurrency = 4
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)

	objs := res.Data.NearEarthObjects["2025-06-01"]
	require.Len(t, objs, 23)
	for _, obj := range objs[3:] {
		if obj.ID == "3542525" {
			assert.Nil(t, obj.OrbitalData)
			continue
		}
		require.NotNil(t, obj.OrbitalData, obj.ID)
		assert.Equal(t, "orbit-"+obj.ID, obj.OrbitalData.OrbitID)
	}

	_, detailCalls := server.counts()
	assert.Equal(t, 23, detailCalls)
}

func TestLoad_ConcurrentEnrichmentAbandonsOnError(t *testing.T) {
	source := &stubSource{feed: stubFeed(30)}
	source.detail = func(ctx context.Context, id string) (*storage.NEODetail, error) {
		if id == "3542519" {
			return nil, errors.New("connection reset by peer")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		return &storage.NEODetail{ID: id, OrbitalData: fakeOrbit(id)}, nil
	}

	cfg := config.TestConfig()
	cfg.Loader.InjectSynthetic = false
	cfg.Loader.EnrichConcurrency = 3
	loader := NewLoader(cfg, source)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())

	assert.Equal(t, StatusPartial, res.Status)
	assert.ErrorContains(t, res.Err, "connection reset by peer")
	assert.Less(t, res.Data.CountEnriched(), 30)
}

func TestLoad_CoalescesSameDayMisses(t *testing.T) {
	server := newFakeNeoWs(t, 2)
	server.feedGate = make(chan struct{})
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = loader.Load(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		feedCalls, _ := server.counts()
		return feedCalls == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(server.feedGate)
	wg.Wait()

	feedCalls, _ := server.counts()
	assert.Equal(t, 1, feedCalls)
	for _, res := range results {
		require.NotNil(t, res.Data)
		assert.Same(t, results[0].Data, res.Data)
	}
}

func TestLoad_EmptyFeedMapUsesToday(t *testing.T) {
	server := newFakeNeoWs(t, 0)
	server.emptyFeed = true
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)
	assert.Len(t, res.Data.NearEarthObjects["2025-06-01"], 3)
	assert.Equal(t, 2, res.Data.ElementCount)
}

func TestLoad_InjectionDisabled(t *testing.T) {
	server := newFakeNeoWs(t, 4)
	loader := testLoader(t, server)
	loader.config.Loader.InjectSynthetic = false
	loader.SetClock(fixedClock(loadTime))

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)
	assert.Len(t, res.Data.NearEarthObjects["2025-06-01"], 4)
	assert.Equal(t, 4, res.Data.ElementCount)
	assert.Equal(t, 4, res.Data.CountEnriched())
}

type recordingListener struct {
	mu    sync.Mutex
	dates []string
	count int
}

func (r *recordingListener) OnDataUpdated(date string, resp *storage.FeedResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, date)
	r.count = len(resp.NearEarthObjects[date])
}

func TestLoad_ArchivesAndNotifies(t *testing.T) {
	server := newFakeNeoWs(t, 3)
	loader := testLoader(t, server)
	loader.config.Loader.Archive = true
	loader.config.Loader.KeepDays = 7
	loader.SetClock(fixedClock(loadTime))

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	old := &storage.Snapshot{Date: "2025-05-01", Data: storage.FeedResponse{NearEarthObjects: map[string][]storage.NearEarthObject{}}}
	require.NoError(t, store.SaveSnapshot(old))

	listener := &recordingListener{}
	loader.SetArchive(store)
	loader.AddListener(listener)

	res := loader.Load(context.Background())
	require.Equal(t, StatusFetched, res.Status)

	assert.Equal(t, []string{"2025-06-01"}, listener.dates)
	assert.Equal(t, 6, listener.count)

	snap, err := store.GetSnapshot("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Enriched)
	assert.True(t, loadTime.Equal(snap.FetchedAt))
	assert.Len(t, snap.Data.NearEarthObjects["2025-06-01"], 6)

	_, err = store.GetSnapshot("2025-05-01")
	assert.ErrorIs(t, err, storage.ErrNotFound, "days older than keep_days are pruned")

	rl, err := store.GetRateLimit()
	require.NoError(t, err)
	assert.Equal(t, "1000", rl.Limit)

	// A cache hit does not notify again.
	loader.Load(context.Background())
	assert.Len(t, listener.dates, 1)
}

func TestLoad_ArchiveDisabled(t *testing.T) {
	server := newFakeNeoWs(t, 1)
	loader := testLoader(t, server)
	loader.SetClock(fixedClock(loadTime))

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()
	loader.SetArchive(store)

	loader.Load(context.Background())

	dates, err := store.ListDates()
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestResultPage(t *testing.T) {
	data := &storage.FeedResponse{ElementCount: 1, NearEarthObjects: map[string][]storage.NearEarthObject{}}

	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"empty", Result{Status: StatusEmpty, Err: errors.New("boom")}, `{}`},
		{"fetched", Result{Status: StatusFetched, Data: data}, `{"data":{"links":{"self":""},"element_count":1,"near_earth_objects":{}}}`},
		{"cached", Result{Status: StatusCached, Data: data}, `{"data":{"links":{"self":""},"element_count":1,"near_earth_objects":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.result.Page())
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "empty", StatusEmpty.String())
	assert.Equal(t, "fetched", StatusFetched.String())
	assert.Equal(t, "cached", StatusCached.String())
	assert.Equal(t, "partial", StatusPartial.String())
	assert.Equal(t, "unknown", Status(9).String())
}
