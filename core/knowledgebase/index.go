package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ArticleSource lists the articles a knowledge base is built from.
type ArticleSource interface {
	ListArticles(ctx context.Context) ([]Article, error)
}

type ArticleStore interface {
	Upsert(ctx context.Context, article Article) error
}

type IndexReport struct {
	Listed  int `json:"listed"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	// Failed holds the IDs of articles the store rejected.
	Failed []string `json:"failed,omitempty"`
}

// Indexer copies articles from a source into a store. Runs through one
// Indexer never overlap.
type Indexer struct {
	mu     sync.Mutex
	source ArticleSource
	store  ArticleStore
}

func NewIndexer(source ArticleSource, store ArticleStore) *Indexer {
	return &Indexer{source: source, store: store}
}

// Run indexes every listed article. Articles without an ID or text are
// skipped, and one rejected article does not stop the rest.
func (x *Indexer) Run(ctx context.Context) (IndexReport, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var report IndexReport
	articles, err := x.source.ListArticles(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list articles: %w", err)
	}
	report.Listed = len(articles)

	var errs []error
	for _, article := range articles {
		if article.ID == "" || strings.TrimSpace(article.Title+article.Body) == "" {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := x.store.Upsert(ctx, article); err != nil {
			report.Failed = append(report.Failed, article.ID)
			errs = append(errs, err)
			continue
		}
		report.Indexed++
	}
	return report, errors.Join(errs...)
}
