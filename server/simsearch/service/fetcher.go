package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "sim_server/server/common/log"
	"sim_server/server/simsearch/domain"
)

// ArticleFetcher resolves an article id against the system of record.
// Implementations return (nil, nil) for an absent row.
type ArticleFetcher interface {
	ArticleByID(ctx context.Context, id int64) (*domain.Article, error)
}

// CachedFetcher is a read-through redis cache in front of an ArticleFetcher.
// Cache failures are logged and bypassed; the datastore stays authoritative.
// Absent rows are not cached, since the upstream writer may commit them at
// any moment.
type CachedFetcher struct {
	inner ArticleFetcher
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedFetcher(inner ArticleFetcher, rdb *redis.Client, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedFetcher{inner: inner, rdb: rdb, ttl: ttl}
}

func (f *CachedFetcher) ArticleByID(ctx context.Context, id int64) (*domain.Article, error) {
	key := articleCacheKey(id)
	if raw, err := f.rdb.Get(ctx, key).Bytes(); err == nil {
		var article domain.Article
		if err := json.Unmarshal(raw, &article); err == nil {
			return &article, nil
		}
		commonlog.Warnf("event=article_cache status=corrupt_entry article_id=%d", id)
	} else if err != redis.Nil {
		commonlog.Warnf("event=article_cache status=read_failed article_id=%d error=%v", id, err)
	}

	article, err := f.inner.ArticleByID(ctx, id)
	if err != nil || article == nil {
		return article, err
	}

	if raw, err := json.Marshal(article); err == nil {
		if err := f.rdb.Set(ctx, key, raw, f.ttl).Err(); err != nil {
			commonlog.Warnf("event=article_cache status=write_failed article_id=%d error=%v", id, err)
		}
	}
	return article, nil
}

func articleCacheKey(id int64) string {
	return fmt.Sprintf("simsearch:article:%d", id)
}
