package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sim_server/server/common/infra/cache"
	"sim_server/server/simsearch/domain"
)

func TestCachedFetcherReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewClient(mr.Addr())
	inner := &stubFetcher{articles: map[int64]*domain.Article{42: article42()}}
	fetcher := NewCachedFetcher(inner, rdb, time.Minute)

	first, err := fetcher.ArticleByID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := fetcher.ArticleByID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first, second)

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 1, inner.calls, "second read must come from the cache")
}

func TestCachedFetcherDoesNotCacheAbsence(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewClient(mr.Addr())
	inner := &stubFetcher{articles: map[int64]*domain.Article{}}
	fetcher := NewCachedFetcher(inner, rdb, time.Minute)

	missing, err := fetcher.ArticleByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// The row appears later; the fetcher must see it.
	inner.mu.Lock()
	inner.articles[7] = &domain.Article{ID: 7, Name: "late", Text: "t"}
	inner.mu.Unlock()

	found, err := fetcher.ArticleByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(7), found.ID)
}

func TestCachedFetcherSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewClient(mr.Addr())
	inner := &stubFetcher{articles: map[int64]*domain.Article{42: article42()}}
	fetcher := NewCachedFetcher(inner, rdb, time.Minute)

	mr.Close()
	got, err := fetcher.ArticleByID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ID)
}
