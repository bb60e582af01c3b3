package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sim_server/server/simsearch/domain"
)

// ArticleRepository reads articles from the scrapping schema owned by the
// upstream writer. This service never writes to it.
type ArticleRepository struct {
	pool *pgxpool.Pool
}

func NewArticleRepository(pool *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{pool: pool}
}

// ArticleByID returns the article or (nil, nil) when no row exists. The id
// may reference a row the upstream writer has not committed yet or has
// already deleted, so absence is an expected outcome, not an error.
func (r *ArticleRepository) ArticleByID(ctx context.Context, id int64) (*domain.Article, error) {
	var (
		article domain.Article
		rawTags []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, text, complexity, reading_time, tags
		FROM scrapping.articles
		WHERE id = $1
	`, id).Scan(&article.ID, &article.Name, &article.Text, &article.Complexity, &article.ReadingTime, &rawTags)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query article %d: %w", id, err)
	}

	article.Tags = []string{}
	if len(rawTags) > 0 {
		if err := json.Unmarshal(rawTags, &article.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for article %d: %w", id, err)
		}
	}
	return &article, nil
}
