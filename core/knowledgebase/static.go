package knowledgebase

import (
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// Article is a knowledge base entry.
type Article struct {
	ID       string
	Title    string
	Body     string
	Keywords []string
}

// StaticIndex scores articles by keyword overlap with the query. It backs
// development setups and tests.
type StaticIndex struct {
	mu       sync.RWMutex
	articles []Article
}

func NewStaticIndex(articles ...Article) *StaticIndex {
	return &StaticIndex{articles: articles}
}

func (s *StaticIndex) Search(ctx context.Context, query Query) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := tokenize(query.Text)
	if len(words) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Candidate
	for _, article := range s.articles {
		score := overlap(words, article)
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			ArticleID: article.ID,
			Title:     article.Title,
			Snippet:   article.Body,
			Score:     score,
		})
	}

	candidates = Rank(candidates)
	if query.Limit > 0 && len(candidates) > query.Limit {
		candidates = candidates[:query.Limit]
	}
	return candidates, nil
}

// overlap is the share of the article's keywords present in the query.
func overlap(words map[string]struct{}, article Article) float64 {
	if len(article.Keywords) == 0 {
		return 0
	}
	hits := 0
	for _, keyword := range article.Keywords {
		if _, ok := words[strings.ToLower(keyword)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(article.Keywords))
}

func tokenize(text string) map[string]struct{} {
	words := map[string]struct{}{}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[word] = struct{}{}
	}
	return words
}

// Upsert adds article or replaces the article with the same ID.
func (s *StaticIndex) Upsert(_ context.Context, article Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.IndexFunc(s.articles, func(a Article) bool { return a.ID == article.ID }); i >= 0 {
		s.articles[i] = article
		return nil
	}
	s.articles = append(s.articles, article)
	return nil
}
