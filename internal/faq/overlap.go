package faq

import "strings"

// jaccard is the word-set overlap of two normalized strings.
func jaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	as := wordSet(a)
	bs := wordSet(b)
	inter := 0
	for w := range as {
		if bs[w] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

// overlapScore is the best overlap of the query with the question or any tag.
func overlapScore(query string, it indexedItem) float64 {
	best := jaccard(query, it.question)
	for _, tag := range it.item.Tags {
		if s := jaccard(query, Normalize(tag)); s > best {
			best = s
		}
	}
	return best
}
