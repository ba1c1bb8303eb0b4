package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMapsConnectionErrorsToUnavailable(t *testing.T) {
	err := classify(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, knowledgebase.ErrUnavailable)

	err = classify(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	assert.NotErrorIs(t, err, knowledgebase.ErrUnavailable)

	assert.ErrorIs(t, classify(context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestSearcherAgainstDatabase(t *testing.T) {
	databaseURL := os.Getenv("KB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("KB_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	searcher, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(searcher.Close)
	require.NoError(t, searcher.Migrate(ctx))

	require.NoError(t, searcher.Upsert(ctx, knowledgebase.Article{
		ID:    "kb-password-reset",
		Title: "Reset a forgotten password",
		Body:  "If you forgot your password, use the reset link on the sign in page.",
	}))

	candidates, err := searcher.Search(ctx, knowledgebase.Query{Text: "I forgot my password"})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "kb-password-reset", candidates[0].ArticleID)
	assert.Greater(t, candidates[0].Score, 0.0)
	assert.Less(t, candidates[0].Score, 1.0)
}
