// Package faq matches customer questions against a static FAQ corpus.
package faq

import (
	"log/slog"
	"sort"

	"frontdesk/internal/domain"
)

const (
	DefaultFloor = 0.30
	bestPoolSize = 8
	maxLimit     = 25
)

// Source names which scorer produced a match.
type Source string

const (
	SourceFuzzy   Source = "fuzzy"
	SourceOverlap Source = "overlap"
)

// Match is a best-match result.
type Match struct {
	Candidate  domain.Candidate
	Confidence float64
	Source     Source
}

type MatcherConfig struct {
	Items  []Item
	Floor  float64 // below this fuzzy confidence the overlap scorer decides
	Logger *slog.Logger
}

// Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	index  *fuzzyIndex
	byID   map[string]int
	floor  float64
	logger *slog.Logger
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultFloor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Matcher{
		index:  newFuzzyIndex(cfg.Items),
		byID:   make(map[string]int, len(cfg.Items)),
		floor:  cfg.Floor,
		logger: cfg.Logger,
	}
	for i, it := range cfg.Items {
		m.byID[it.ID] = i
	}
	return m
}

func (m *Matcher) Len() int {
	return len(m.index.items)
}

// Get returns the corpus entry with the given id, scored 1.
func (m *Matcher) Get(id string) (domain.Candidate, bool) {
	i, ok := m.byID[id]
	if !ok {
		return domain.Candidate{}, false
	}
	return m.index.items[i].item.candidate(1), true
}

// BestMatch returns the single best entry for query. Guarantee-type
// queries prefer the highest-ranked guarantee entry among the top hits.
// When fuzzy search finds nothing or scores below the floor, word overlap
// with questions and tags decides.
func (m *Matcher) BestMatch(query string) (Match, bool) {
	q := Normalize(query)
	if q == "" || isLowInformation(q) || m.Len() == 0 {
		return Match{}, false
	}

	hits := m.index.search(queryTerms(q))
	if len(hits) > 0 {
		if len(hits) > bestPoolSize {
			hits = hits[:bestPoolSize]
		}
		picked := hits[0]
		if looksLikeGuarantee(q) {
			for _, h := range hits {
				if looksLikeGuarantee(m.index.items[h.pos].intentText) {
					picked = h
					break
				}
			}
		}
		conf := confidence(picked.distance)
		if conf >= m.floor {
			it := m.index.items[picked.pos].item
			return Match{Candidate: it.candidate(conf), Confidence: conf, Source: SourceFuzzy}, true
		}
	}

	bestPos, bestScore := -1, 0.0
	for pos, it := range m.index.items {
		if s := overlapScore(q, it); s > bestScore {
			bestPos, bestScore = pos, s
		}
	}
	if bestPos < 0 {
		return Match{}, false
	}
	it := m.index.items[bestPos].item
	m.logger.Debug("faq overlap fallback", "faq_id", it.ID, "confidence", bestScore)
	return Match{Candidate: it.candidate(bestScore), Confidence: bestScore, Source: SourceOverlap}, true
}

// TopCandidates returns up to limit ranked entries (limit is clamped to
// 1..25). Guarantee-type queries list guarantee entries first.
func (m *Matcher) TopCandidates(query string, limit int) []domain.Candidate {
	limit = max(1, min(limit, maxLimit))
	q := Normalize(query)
	if q == "" || isLowInformation(q) || m.Len() == 0 {
		return nil
	}

	var out []domain.Candidate
	hits := m.index.search(queryTerms(q))
	if len(hits) > limit {
		hits = hits[:limit]
	}
	for _, h := range hits {
		out = append(out, m.index.items[h.pos].item.candidate(confidence(h.distance)))
	}

	if len(out) == 0 {
		for _, it := range m.index.items {
			if s := overlapScore(q, it); s > 0 {
				out = append(out, it.item.candidate(s))
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	if looksLikeGuarantee(q) {
		sort.SliceStable(out, func(i, j int) bool {
			gi := looksLikeGuarantee(m.index.items[m.byID[out[i].ID]].intentText)
			gj := looksLikeGuarantee(m.index.items[m.byID[out[j].ID]].intentText)
			return gi && !gj
		})
	}
	return out
}

// Search implements domain.Corpus.
func (m *Matcher) Search(query string, limit int) []domain.Candidate {
	return m.TopCandidates(query, limit)
}

func confidence(distance float64) float64 {
	return min(1, max(0, 1-distance))
}
