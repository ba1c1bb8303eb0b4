// Package postgres serves knowledge base search from Postgres full-text
// search.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-support/core/knowledgebase/postgres"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultLimit = 3

// The query terms are OR-ed so a question matches articles covering any of
// its words; ts_rank_cd normalization 32 maps the rank into [0, 1).
const searchSQL = `
SELECT id,
       title,
       ts_headline('english', body, query, 'MaxWords=40, MinWords=15') AS snippet,
       ts_rank_cd(search, query, 32)::float8 AS score
FROM kb_articles,
     to_tsquery('english', replace(plainto_tsquery('english', $1)::text, '&', '|')) AS query
WHERE search @@ query
ORDER BY score DESC
LIMIT $2`

const upsertSQL = `
INSERT INTO kb_articles (id, title, body, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, body = EXCLUDED.body, updated_at = now()`

type Searcher struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Searcher, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach knowledge base database: %w", err)
	}
	return &Searcher{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Searcher) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	migrationsFS, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate knowledge base: %w", err)
	}
	for _, result := range results {
		logger.Info("applied knowledge base migration", "version", result.Source.Version, "duration", result.Duration)
	}
	return nil
}

func (s *Searcher) Close() { s.pool.Close() }

type candidateRow struct {
	ID      string  `db:"id"`
	Title   string  `db:"title"`
	Snippet string  `db:"snippet"`
	Score   float64 `db:"score"`
}

func (s *Searcher) Search(ctx context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error) {
	ctx, span := tracer.Start(ctx, "postgres.search")
	defer span.End()

	text := strings.TrimSpace(query.Text)
	if text == "" {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	span.SetAttributes(attribute.Int("kb.limit", limit))

	rows, err := s.pool.Query(ctx, searchSQL, text, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[candidateRow])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(err)
	}

	candidates := make([]knowledgebase.Candidate, 0, len(found))
	for _, row := range found {
		candidates = append(candidates, knowledgebase.Candidate{
			ArticleID: row.ID,
			Title:     row.Title,
			Snippet:   row.Snippet,
			Score:     row.Score,
		})
	}
	span.SetAttributes(attribute.Int("kb.candidates", len(candidates)))
	return knowledgebase.Rank(candidates), nil
}

// Upsert stores or replaces an article.
func (s *Searcher) Upsert(ctx context.Context, article knowledgebase.Article) error {
	if _, err := s.pool.Exec(ctx, upsertSQL, article.ID, article.Title, article.Body); err != nil {
		return fmt.Errorf("failed to upsert article %q: %w", article.ID, err)
	}
	return nil
}

// classify maps connection level failures onto ErrUnavailable so the answer
// gate retries them. Query errors are returned as is.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("knowledge base query failed: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", knowledgebase.ErrUnavailable, err)
}
