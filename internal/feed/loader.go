package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/search"
	"github.com/pders01/neows/internal/storage"
	"github.com/pders01/neows/internal/validation"
)

// DateLayout is the calendar-date format of feed keys and cache dates.
const DateLayout = "2006-01-02"

// Status describes how a Load produced its result.
type Status int

const (
	// StatusEmpty means no data could be produced; Err says why.
	StatusEmpty Status = iota
	// StatusFetched means today's feed was fetched and fully enriched.
	StatusFetched
	// StatusCached means the payload came from the daily cache.
	StatusCached
	// StatusPartial means the feed was fetched but enrichment was
	// abandoned part way; Err holds the cause.
	StatusPartial
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusFetched:
		return "fetched"
	case StatusCached:
		return "cached"
	case StatusPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Load.
type Result struct {
	Date   string
	Data   *storage.FeedResponse
	Status Status
	Err    error
}

// Page is the page-data shape handed to the UI: {"data": ...} or {}.
type Page struct {
	Data *storage.FeedResponse `json:"data,omitempty"`
}

// Page wraps the payload for the UI; an empty result yields {}.
func (r Result) Page() Page {
	if r.Status == StatusEmpty {
		return Page{}
	}
	return Page{Data: r.Data}
}

// Source is the upstream the loader reads from. *Fetcher implements it.
type Source interface {
	FetchFeed(ctx context.Context, date string) (*storage.FeedResponse, storage.RateLimit, error)
	FetchDetail(ctx context.Context, id string) (*storage.NEODetail, storage.RateLimit, error)
}

// Archive receives each day's payload after a fetch. *storage.Store
// implements it.
type Archive interface {
	SaveSnapshot(snapshot *storage.Snapshot) error
	SaveRateLimit(rl storage.RateLimit) error
	PruneBefore(date string) (int, error)
}

// Loader produces today's feed, fetching and enriching it at most once per
// UTC day.
type Loader struct {
	source Source
	cache  *DailyCache
	config *config.Config
	clock  func() time.Time
	group  singleflight.Group

	mu        sync.RWMutex
	archive   Archive
	listeners []search.UpdateListener
	rateLimit storage.RateLimit
}

// NewLoader returns a loader reading from source with an empty day cache.
func NewLoader(cfg *config.Config, source Source) *Loader {
	return &Loader{
		source: source,
		cache:  NewDailyCache(),
		config: cfg,
		clock:  time.Now,
	}
}

// SetArchive enables write-behind archiving of fetched days. The archive
// is never read by Load.
func (l *Loader) SetArchive(a Archive) {
	l.mu.Lock()
	l.archive = a
	l.mu.Unlock()
}

// AddListener registers a listener that is handed every freshly loaded
// payload.
func (l *Loader) AddListener(listener search.UpdateListener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, listener)
	l.mu.Unlock()
}

// SetClock replaces the time source. Tests use it to move across days.
func (l *Loader) SetClock(clock func() time.Time) {
	l.clock = clock
}

// RateLimit returns the headers of the most recent upstream response.
func (l *Loader) RateLimit() storage.RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rateLimit
}

// Load returns today's enriched feed. A cache hit for today returns the
// cached payload without touching the network; concurrent misses for the
// same day share one upstream fetch.
func (l *Loader) Load(ctx context.Context) Result {
	now := l.clock()
	today := now.UTC().Format(DateLayout)

	if data, ok := l.cache.Get(today); ok {
		return Result{Date: today, Data: data, Status: StatusCached}
	}

	v, _, _ := l.group.Do(today, func() (any, error) {
		if data, ok := l.cache.Get(today); ok {
			return Result{Date: today, Data: data, Status: StatusCached}, nil
		}
		return l.fetchDay(ctx, today, now), nil
	})
	return v.(Result)
}

func (l *Loader) fetchDay(ctx context.Context, today string, now time.Time) Result {
	resp, rl, err := l.source.FetchFeed(ctx, today)
	l.observeRateLimit(rl)
	if err != nil {
		debuglog.Warnf("feed fetch for %s failed: %v", today, err)
		l.persistRateLimit()
		return Result{Date: today, Status: StatusEmpty, Err: fmt.Errorf("fetching feed: %w", err)}
	}

	if l.config.Loader.InjectSynthetic {
		InjectSynthetic(resp, today, now)
	}

	// Readers see the unenriched payload while enrichment runs.
	if !l.cache.Put(today, resp) {
		debuglog.Debugf("cache already holds a later day than %s", today)
	}

	enriched := resp.Clone()
	status := StatusFetched
	n, err := l.enrich(ctx, enriched)
	if err != nil {
		debuglog.Warnf("enrichment for %s abandoned after %d objects: %v", today, n, err)
		status = StatusPartial
		err = fmt.Errorf("enriching feed: %w", err)
	} else {
		debuglog.Debugf("enriched %d objects for %s", n, today)
	}

	// A flight that outlived midnight still archives its day but leaves
	// the slot to the newer one.
	if !l.cache.Put(today, enriched) {
		debuglog.Infof("enrichment for %s finished after rollover; cache kept", today)
	}
	l.publish(today, enriched, now)

	return Result{Date: today, Data: enriched, Status: status, Err: err}
}

// enrich replaces orbital_data of every object under the first date key
// with the lookup endpoint's. Objects whose lookup answers non-2xx are
// skipped. Any other failure stops enrichment and is returned.
func (l *Loader) enrich(ctx context.Context, resp *storage.FeedResponse) (int, error) {
	objs := resp.NearEarthObjects[resp.FirstKey()]
	if len(objs) == 0 {
		return 0, nil
	}

	limit := l.config.Loader.EnrichConcurrency
	if limit <= 1 {
		n := 0
		for i := range objs {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			ok, err := l.enrichOne(ctx, &objs[i])
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
		return n, nil
	}

	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range objs {
		obj := &objs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := l.enrichOne(gctx, obj)
			if err != nil {
				return err
			}
			if ok {
				n.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(n.Load()), err
}

func (l *Loader) enrichOne(ctx context.Context, obj *storage.NearEarthObject) (bool, error) {
	if err := validation.ValidateNEOID(obj.ID); err != nil {
		debuglog.Debugf("skipping enrichment: %v", err)
		return false, nil
	}

	detail, rl, err := l.source.FetchDetail(ctx, obj.ID)
	l.observeRateLimit(rl)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			debuglog.Debugf("no detail for %s: %v", obj.ID, err)
			return false, nil
		}
		return false, fmt.Errorf("object %s: %w", obj.ID, err)
	}

	obj.OrbitalData = detail.OrbitalData
	return true, nil
}

func (l *Loader) observeRateLimit(rl storage.RateLimit) {
	if rl.ObservedAt.IsZero() {
		return
	}
	l.mu.Lock()
	l.rateLimit = rl
	l.mu.Unlock()
}

func (l *Loader) persistRateLimit() {
	l.mu.RLock()
	archive, rl := l.archive, l.rateLimit
	l.mu.RUnlock()

	if archive == nil || !l.config.Loader.Archive || rl.ObservedAt.IsZero() {
		return
	}
	if err := archive.SaveRateLimit(rl); err != nil {
		debuglog.Warnf("saving rate limit: %v", err)
	}
}

func (l *Loader) publish(date string, data *storage.FeedResponse, now time.Time) {
	l.mu.RLock()
	listeners := append([]search.UpdateListener(nil), l.listeners...)
	archive := l.archive
	l.mu.RUnlock()

	for _, listener := range listeners {
		listener.OnDataUpdated(date, data)
	}

	if archive == nil || !l.config.Loader.Archive {
		return
	}

	snapshot := &storage.Snapshot{
		Date:      date,
		FetchedAt: now.UTC(),
		Enriched:  data.CountEnriched(),
		Data:      *data,
	}
	if err := archive.SaveSnapshot(snapshot); err != nil {
		debuglog.Warnf("archiving %s: %v", date, err)
	}
	l.persistRateLimit()

	if keep := l.config.Loader.KeepDays; keep > 0 {
		cutoff := now.UTC().AddDate(0, 0, -keep).Format(DateLayout)
		if pruned, err := archive.PruneBefore(cutoff); err != nil {
			debuglog.Warnf("pruning archive before %s: %v", cutoff, err)
		} else if pruned > 0 {
			debuglog.Infof("pruned %d archived days before %s", pruned, cutoff)
		}
	}
}
