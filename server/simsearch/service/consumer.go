package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	commonlog "sim_server/server/common/log"
	"sim_server/server/simsearch/domain"
	"sim_server/server/simsearch/embedding"
	"sim_server/server/simsearch/index"
	"sim_server/server/simsearch/normalize"
)

// Consumer drains the change feed and turns article-created events into
// indexed vectors. Every failure is contained to the message that caused
// it: the loop itself only stops on shutdown.
type Consumer struct {
	feed      Feed
	fetcher   ArticleFetcher
	embedder  embedding.Embedder
	index     *index.Index
	snapshots *SnapshotStore // nil when snapshot backup is disabled
	errSleep  time.Duration
}

func NewConsumer(feed Feed, fetcher ArticleFetcher, embedder embedding.Embedder, ix *index.Index, snapshots *SnapshotStore) *Consumer {
	return &Consumer{
		feed:      feed,
		fetcher:   fetcher,
		embedder:  embedder,
		index:     ix,
		snapshots: snapshots,
		errSleep:  time.Second,
	}
}

// Run polls until ctx is canceled. An in-flight message is finished before
// returning; the feed connection is released by the owning Server.
func (c *Consumer) Run(ctx context.Context) {
	commonlog.Infof("event=consumer status=started")
	for {
		payload, err := c.feed.Poll(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			commonlog.Infof("event=consumer status=stopped")
			return
		}
		if err != nil {
			commonlog.Errorf("event=consumer status=poll_failed error=%v", err)
			select {
			case <-ctx.Done():
				commonlog.Infof("event=consumer status=stopped")
				return
			case <-time.After(c.errSleep):
			}
			continue
		}
		if payload == nil {
			continue
		}
		c.process(ctx, payload)
	}
}

func (c *Consumer) process(ctx context.Context, payload []byte) {
	var event domain.ArticleEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ID <= 0 {
		commonlog.Warnf("event=consumer status=malformed_payload payload=%.200s", payload)
		return
	}

	// Datastore round-trip happens before Append so the index lock is
	// never held across blocking I/O.
	article, err := c.fetcher.ArticleByID(ctx, event.ID)
	if err != nil {
		commonlog.Warnf("event=consumer status=article_unavailable article_id=%d error=%v", event.ID, err)
		return
	}
	if article == nil {
		// Expected race with the upstream writer: the row may not be
		// committed yet, or was already deleted.
		commonlog.Warnf("event=consumer status=article_missing article_id=%d", event.ID)
		return
	}

	text := normalize.Text(article.Text)
	vec := c.embedder.Embed(ctx, text)

	slot, err := c.index.Append(article.ID, vec)
	if err != nil {
		commonlog.Errorf("event=consumer status=append_failed article_id=%d error=%v", article.ID, err)
		return
	}
	commonlog.Infof("event=article_indexed article_id=%d slot=%d name=%.80q", article.ID, slot, article.Name)

	if c.snapshots != nil {
		c.snapshots.NoteAppend(ctx)
	}
}
