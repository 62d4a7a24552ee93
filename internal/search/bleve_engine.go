package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/storage"
)

type bleveEngine struct {
	store *storage.Store
	idx   bleve.Index
}

// NewBleveEngine creates or opens a Bleve index at indexPath. When store is
// set, every archived day is indexed on open and hits are resolved to the
// full archived object.
func NewBleveEngine(store *storage.Store, indexPath string) (Index, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	// Try open first
	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index: %w", err)
		}
	}

	be := &bleveEngine{store: store, idx: idx}
	if store != nil {
		if err := be.reindexAll(); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = true
	name.IncludeTermVectors = true

	// ids and dates are matched exactly
	neoID := bleve.NewTextFieldMapping()
	neoID.Analyzer = keyword.Name
	neoID.Store = true

	date := bleve.NewTextFieldMapping()
	date.Analyzer = keyword.Name
	date.Store = true

	orbitClass := bleve.NewTextFieldMapping()
	orbitClass.Analyzer = standard.Name
	orbitClass.Store = true

	orbitDesc := bleve.NewTextFieldMapping()
	orbitDesc.Analyzer = standard.Name
	orbitDesc.Store = false

	body := bleve.NewTextFieldMapping()
	body.Analyzer = standard.Name
	body.Store = false

	hazardous := bleve.NewBooleanFieldMapping()
	hazardous.Store = true

	dm.AddFieldMappingsAt("name", name)
	dm.AddFieldMappingsAt("neo_id", neoID)
	dm.AddFieldMappingsAt("date", date)
	dm.AddFieldMappingsAt("orbit_class", orbitClass)
	dm.AddFieldMappingsAt("orbit_description", orbitDesc)
	dm.AddFieldMappingsAt("orbiting_body", body)
	dm.AddFieldMappingsAt("hazardous", hazardous)

	im.DefaultMapping = dm
	return im
}

func (b *bleveEngine) reindexAll() error {
	dates, err := b.store.ListDates()
	if err != nil {
		return err
	}
	for _, date := range dates {
		snap, err := b.store.GetSnapshot(date)
		if err != nil {
			return err
		}
		if err := b.indexDay(snap.Date, &snap.Data); err != nil {
			return err
		}
	}
	return nil
}

func objectDoc(date string, obj *storage.NearEarthObject) map[string]any {
	doc := map[string]any{
		"neo_id":    obj.ID,
		"date":      date,
		"name":      obj.Name,
		"hazardous": obj.IsPotentiallyHazardous,
	}
	if obj.OrbitalData != nil {
		doc["orbit_class"] = obj.OrbitalData.OrbitClass.Type
		doc["orbit_description"] = obj.OrbitalData.OrbitClass.Description
	}
	if approach, ok := obj.NextApproach(); ok {
		doc["orbiting_body"] = approach.OrbitingBody
	}
	return doc
}

// indexDay replaces all documents of date with the objects of resp.
func (b *bleveEngine) indexDay(date string, resp *storage.FeedResponse) error {
	if err := b.deleteDay(date); err != nil {
		return err
	}

	batch := b.idx.NewBatch()
	for _, key := range resp.DateKeys() {
		objs := resp.NearEarthObjects[key]
		for i := range objs {
			if err := batch.Index(docIDForObject(date, objs[i].ID), objectDoc(date, &objs[i])); err != nil {
				return err
			}
		}
	}
	return b.idx.Batch(batch)
}

func (b *bleveEngine) deleteDay(date string) error {
	tq := bleve.NewTermQuery(date)
	tq.SetField("date")

	const size = 1000
	for {
		req := bleve.NewSearchRequestOptions(tq, size, 0, false)
		req.Fields = []string{}
		res, err := b.idx.Search(req)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.idx.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.idx.Batch(batch); err != nil {
			return err
		}
		if len(res.Hits) < size {
			return nil
		}
	}
}

func (b *bleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	// Exact id hit first, then an OR of per-term matches with boosts
	var qs []bleveQuery.Query
	qid := bleve.NewTermQuery(strings.TrimSpace(query))
	qid.SetField("neo_id")
	qid.SetBoost(6.0)
	qs = append(qs, qid)

	for _, tok := range tokenize(query) {
		// name^4
		qn := bleve.NewMatchQuery(tok)
		qn.SetField("name")
		qn.SetBoost(4.0)
		qs = append(qs, qn)
		qnp := bleve.NewPrefixQuery(tok)
		qnp.SetField("name")
		qnp.SetBoost(3.5)
		qs = append(qs, qnp)
		// orbit_class^1.5
		qc := bleve.NewMatchQuery(tok)
		qc.SetField("orbit_class")
		qc.SetBoost(1.5)
		qs = append(qs, qc)
		// orbit_description^1
		qd := bleve.NewMatchQuery(tok)
		qd.SetField("orbit_description")
		qd.SetBoost(1.0)
		qs = append(qs, qd)
		// orbiting_body^0.5
		qb := bleve.NewMatchQuery(tok)
		qb.SetField("orbiting_body")
		qb.SetBoost(0.5)
		qs = append(qs, qb)
	}

	q := bleve.NewDisjunctionQuery(qs...)
	srch := bleve.NewSearchRequestOptions(q, limit, 0, false)
	srch.Fields = []string{"neo_id", "date", "name", "orbit_class", "hazardous"}
	res, err := b.idx.Search(srch)
	if err != nil {
		return nil, err
	}

	snapshots := map[string]*storage.Snapshot{}
	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		date, _ := h.Fields["date"].(string)
		obj := b.resolve(snapshots, date, h.Fields)
		out = append(out, &Result{Date: date, Object: obj, Score: h.Score})
	}
	return out, nil
}

// resolve returns the archived object for a hit, or one rebuilt from the
// stored fields when the archive does not have it.
func (b *bleveEngine) resolve(snapshots map[string]*storage.Snapshot, date string, fields map[string]any) *storage.NearEarthObject {
	id, _ := fields["neo_id"].(string)

	if b.store != nil && date != "" {
		snap, ok := snapshots[date]
		if !ok {
			var err error
			snap, err = b.store.GetSnapshot(date)
			if err != nil {
				debuglog.Debugf("search: no archived snapshot for %s: %v", date, err)
				snap = nil
			}
			snapshots[date] = snap
		}
		if snap != nil {
			if obj, found := snap.Data.Find(id); found {
				cp := *obj
				return &cp
			}
		}
	}

	obj := &storage.NearEarthObject{ID: id, NeoReferenceID: id}
	if name, ok := fields["name"].(string); ok {
		obj.Name = name
	}
	switch v := fields["hazardous"].(type) {
	case bool:
		obj.IsPotentiallyHazardous = v
	case string:
		obj.IsPotentiallyHazardous = v == "T" || v == "true"
	}
	if class, ok := fields["orbit_class"].(string); ok && class != "" {
		obj.OrbitalData = &storage.OrbitalData{OrbitClass: storage.OrbitClass{Type: class}}
	}
	return obj
}

// OnDataUpdated re-indexes the day wholesale.
func (b *bleveEngine) OnDataUpdated(date string, resp *storage.FeedResponse) {
	if resp == nil {
		return
	}
	if err := b.indexDay(date, resp); err != nil {
		debuglog.Warnf("indexing %s: %v", date, err)
	}
}

// DocCount reports total documents in the index.
func (b *bleveEngine) DocCount() (int, error) {
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := b.idx.Search(req)
	if err != nil {
		return 0, err
	}
	return int(res.Total), nil
}

func (b *bleveEngine) Close() error {
	return b.idx.Close()
}

func docIDForObject(date, id string) string { return "neo:" + date + ":" + id }
