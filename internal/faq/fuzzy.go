package faq

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Field weights mirror a question-first search: the question text counts
// most, tags less, and the answer body least.
const (
	weightQuestion = 0.60
	weightTags     = 0.25
	weightAnswer   = 0.15

	// termFloor drops scattered subsequence hits that fzf still scores.
	termFloor = 0.30
	// epsilon keeps a perfect field match from zeroing the product.
	epsilon = 0.001
)

var initAlgo sync.Once

type indexedItem struct {
	item     Item
	question string
	tags     string
	answer   string
	// haystack used by the guarantee booster
	intentText string
}

type fuzzyHit struct {
	pos      int
	distance float64 // 0 = perfect
}

// fuzzyIndex scores normalized fields with fzf's V2 algorithm and folds
// per-field relevance into a single distance, Fuse-style.
type fuzzyIndex struct {
	items []indexedItem
}

func newFuzzyIndex(items []Item) *fuzzyIndex {
	initAlgo.Do(func() { algo.Init("default") })

	idx := &fuzzyIndex{items: make([]indexedItem, 0, len(items))}
	for _, it := range items {
		tags := make([]string, 0, len(it.Tags))
		for _, t := range it.Tags {
			tags = append(tags, Normalize(t))
		}
		idx.items = append(idx.items, indexedItem{
			item:       it,
			question:   Normalize(it.Question),
			tags:       strings.Join(tags, " "),
			answer:     Normalize(it.Answer),
			intentText: Normalize(it.ID + " " + it.Question + " " + strings.Join(it.Tags, " ")),
		})
	}
	return idx
}

// search returns hits ordered by ascending distance, then corpus order.
func (x *fuzzyIndex) search(terms []string) []fuzzyHit {
	if len(terms) == 0 {
		return nil
	}
	patterns := make([][]rune, len(terms))
	selfScores := make([]int, len(terms))
	for i, t := range terms {
		patterns[i] = []rune(t)
		selfScores[i] = matchScore(t, patterns[i])
	}

	var hits []fuzzyHit
	for pos, it := range x.items {
		q := fieldRelevance(it.question, patterns, selfScores)
		tg := fieldRelevance(it.tags, patterns, selfScores)
		an := fieldRelevance(it.answer, patterns, selfScores)
		if q == 0 && tg == 0 && an == 0 {
			continue
		}
		d := 1.0
		for _, f := range []struct{ rel, weight float64 }{
			{q, weightQuestion}, {tg, weightTags}, {an, weightAnswer},
		} {
			if f.rel > 0 {
				d *= math.Pow(math.Max(epsilon, 1-f.rel), f.weight)
			}
		}
		hits = append(hits, fuzzyHit{pos: pos, distance: d})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	return hits
}

// fieldRelevance is the mean per-term relevance of text, each term scored
// relative to a perfect match of itself.
func fieldRelevance(text string, patterns [][]rune, selfScores []int) float64 {
	if text == "" {
		return 0
	}
	var sum float64
	for i, p := range patterns {
		if selfScores[i] <= 0 {
			continue
		}
		rel := float64(matchScore(text, p)) / float64(selfScores[i])
		if rel < termFloor {
			continue
		}
		sum += math.Min(rel, 1)
	}
	return sum / float64(len(patterns))
}

func matchScore(text string, pattern []rune) int {
	chars := util.ToChars([]byte(text))
	res, _ := algo.FuzzyMatchV2(false, false, true, &chars, pattern, false, nil)
	if res.Start < 0 {
		return 0
	}
	return res.Score
}
