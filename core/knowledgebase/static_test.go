package knowledgebase

import (
	"context"
	"testing"
)

func TestStaticIndexRanksByKeywordOverlap(t *testing.T) {
	index := NewStaticIndex(
		Article{ID: "kb-password", Title: "Reset your password", Body: "Use the forgot password link.", Keywords: []string{"forgot", "password"}},
		Article{ID: "kb-billing", Title: "Billing", Body: "Invoices are monthly.", Keywords: []string{"invoice", "billing", "password"}},
	)

	candidates, err := index.Search(context.Background(), Query{Text: "I forgot my password"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ArticleID != "kb-password" || candidates[0].Score != 1 {
		t.Fatalf("expected password article with full score first, got %+v", candidates[0])
	}
	if candidates[1].Score >= candidates[0].Score {
		t.Fatalf("expected descending scores, got %+v", candidates)
	}
}

func TestStaticIndexHonoursLimitAndEmptyQuery(t *testing.T) {
	index := NewStaticIndex(
		Article{ID: "a", Keywords: []string{"api"}},
		Article{ID: "b", Keywords: []string{"api", "sdk"}},
	)

	candidates, err := index.Search(context.Background(), Query{Text: "api", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ArticleID != "a" {
		t.Fatalf("expected only the best candidate, got %+v", candidates)
	}

	candidates, err = index.Search(context.Background(), Query{Text: "  "})
	if err != nil || len(candidates) != 0 {
		t.Fatalf("expected no candidates for empty query, got %+v, %v", candidates, err)
	}
}

func TestStaticIndexRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewStaticIndex().Search(ctx, Query{Text: "x"}); err == nil {
		t.Fatalf("expected context error")
	}
}
