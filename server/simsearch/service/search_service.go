package service

import (
	"context"

	commonlog "sim_server/server/common/log"
	"sim_server/server/simsearch/domain"
	"sim_server/server/simsearch/embedding"
	"sim_server/server/simsearch/index"
	"sim_server/server/simsearch/normalize"
)

const defaultSearchK = 5

// SearchService answers free-text similarity queries: embed the query,
// find nearest slots, hydrate each hit from the system of record.
type SearchService struct {
	embedder embedding.Embedder
	index    *index.Index
	fetcher  ArticleFetcher
}

func NewSearchService(embedder embedding.Embedder, ix *index.Index, fetcher ArticleFetcher) *SearchService {
	return &SearchService{embedder: embedder, index: ix, fetcher: fetcher}
}

// SearchText returns up to k articles ranked by ascending distance. A hit
// whose article has vanished from the datastore is dropped rather than
// failing the request, so the result may hold fewer than k entries. An
// empty index yields an empty result, not an error.
func (s *SearchService) SearchText(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = defaultSearchK
	}

	vec := s.embedder.Embed(ctx, normalize.Text(query))
	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	// Hydration runs after Search released the index lock, so slow
	// datastore reads never stall concurrent appends or searches.
	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		article, err := s.fetcher.ArticleByID(ctx, hit.ID)
		if err != nil {
			commonlog.Warnf("event=search status=hydration_failed article_id=%d error=%v", hit.ID, err)
			continue
		}
		if article == nil {
			commonlog.Debugf("event=search status=stale_hit article_id=%d slot=%d", hit.ID, hit.Slot)
			continue
		}
		results = append(results, domain.SearchResult{Article: *article, Distance: hit.Distance})
	}
	return results, nil
}
