// Package knowledgebase defines the knowledge base search collaborator and a
// small in-memory index.
package knowledgebase

import (
	"context"
	"errors"
	"slices"
)

// ErrUnavailable is returned by searchers whose backing service cannot be
// reached.
var ErrUnavailable = errors.New("knowledge base unavailable")

// Query is a caller question plus the conversation so far.
type Query struct {
	Text string
	// Context holds earlier caller turns, oldest first.
	Context []string
	Limit   int
}

// Candidate is one ranked article. Score is normalized to [0, 1].
type Candidate struct {
	ArticleID string  `json:"article_id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

type Searcher interface {
	Search(ctx context.Context, query Query) ([]Candidate, error)
}

// Rank sorts candidates by descending score, keeping the original order of
// equal scores.
func Rank(candidates []Candidate) []Candidate {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return candidates
}
