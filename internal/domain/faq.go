package domain

// Candidate is an FAQ entry considered for a query.
// Score is a relevance in [0,1], higher is better.
type Candidate struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags,omitempty"`
	Score    float64  `json:"score"`
}

// Corpus is a static, read-only FAQ source.
type Corpus interface {
	Search(query string, limit int) []Candidate
	Get(id string) (Candidate, bool)
	Len() int
}
