package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pders01/neows/internal/storage"
)

const defaultLimit = 20

// Result represents a search match with relevance scoring
type Result struct {
	Date    string
	Object  *storage.NearEarthObject
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "name", "id", "orbit_class", "orbiting_body", "hazard"
	Text   string
	Weight float64
}

// Engine scores objects held in memory. It is used when no index path is
// configured.
type Engine struct {
	mu   sync.RWMutex
	days map[string][]storage.NearEarthObject
}

func NewEngine() *Engine {
	return &Engine{days: make(map[string][]storage.NearEarthObject)}
}

// NewEngineFromStore seeds the engine with every archived day.
func NewEngineFromStore(store *storage.Store) (*Engine, error) {
	e := NewEngine()
	dates, err := store.ListDates()
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		snap, err := store.GetSnapshot(date)
		if err != nil {
			return nil, err
		}
		e.OnDataUpdated(snap.Date, &snap.Data)
	}
	return e, nil
}

// OnDataUpdated replaces the objects held for date with every object in
// resp.
func (e *Engine) OnDataUpdated(date string, resp *storage.FeedResponse) {
	if resp == nil {
		return
	}
	var objs []storage.NearEarthObject
	for _, key := range resp.DateKeys() {
		objs = append(objs, resp.NearEarthObjects[key]...)
	}

	e.mu.Lock()
	e.days[date] = objs
	e.mu.Unlock()
}

func (e *Engine) DocCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, objs := range e.days {
		n += len(objs)
	}
	return n, nil
}

func (e *Engine) Close() error { return nil }

// Search scores every held object against the query terms, newest day
// first on equal scores.
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	e.mu.RLock()
	var results []*Result
	for date, objs := range e.days {
		for i := range objs {
			if result := e.searchObject(date, objs[i], terms); result != nil {
				results = append(results, result)
			}
		}
	}
	e.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Date != results[j].Date {
			return results[i].Date > results[j].Date
		}
		return results[i].Object.ID < results[j].Object.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (e *Engine) searchObject(date string, obj storage.NearEarthObject, terms []string) *Result {
	var matches []Match
	var totalScore float64

	add := func(field, text string, weight float64) {
		if score := e.scoreField(text, terms, weight); score > 0 {
			matches = append(matches, Match{Field: field, Text: truncate(text, 100), Weight: score})
			totalScore += score
		}
	}

	add("name", obj.Name, 4.0)
	add("id", obj.ID, 3.0)
	if obj.OrbitalData != nil {
		add("orbit_class", obj.OrbitalData.OrbitClass.Type+" "+obj.OrbitalData.OrbitClass.Description, 1.5)
	}
	if approach, ok := obj.NextApproach(); ok {
		add("orbiting_body", approach.OrbitingBody, 0.5)
	}
	if obj.IsPotentiallyHazardous {
		add("hazard", "potentially hazardous", 1.0)
	}

	if totalScore == 0 {
		return nil
	}
	cp := obj
	return &Result{
		Date:    date,
		Object:  &cp,
		Score:   totalScore,
		Matches: matches,
	}
}

// scoreField calculates relevance score for a field
func (e *Engine) scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Exact phrase match (highest score)
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	// Boost score if multiple terms match
	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// tokenize breaks text into lower-case searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-1] + "…"
}
